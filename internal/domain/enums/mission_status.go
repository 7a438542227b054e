package enums

type UserMissionStatus string

const (
	UserMissionStatusInProgress UserMissionStatus = "in_progress"
	UserMissionStatusCompleted  UserMissionStatus = "completed"
	UserMissionStatusAbandoned  UserMissionStatus = "abandoned"
)

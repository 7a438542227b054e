package dto

import "time"

type SessionResponse struct {
	ID        int64     `json:"id"`
	MissionID int64     `json:"mission_id"`
	StartedAt time.Time `json:"started_at"`
}

type MissionCompleteResponse struct {
	MissionID int64  `json:"mission_id"`
	Title     string `json:"title"`
	Reward    string `json:"reward"`
	Completed bool   `json:"completed"`
}

type ProofSubmitRequest struct {
	SessionID int64  `json:"session_id"`
	PhotoKey  string `json:"photo_key"`
	Location  string `json:"location"`
}

type ProofRejectRequest struct {
	Reason string `json:"reason"`
}

type ProofResponse struct {
	ID              int64      `json:"id"`
	SessionID       int64      `json:"session_id"`
	MissionID       int64      `json:"mission_id"`
	MissionTitle    string     `json:"mission_title"`
	PhotoKey        string     `json:"photo_key"`
	Location        string     `json:"location,omitempty"`
	Status          string     `json:"status"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
}

type ProofPhotoResponse struct {
	URL string `json:"url"`
}

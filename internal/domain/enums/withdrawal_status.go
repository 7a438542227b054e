package enums

type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusSucceeded WithdrawalStatus = "succeeded"
	WithdrawalStatusFailed    WithdrawalStatus = "failed"
)

package dto

type BalanceResponse struct {
	UserID  int64  `json:"user_id"`
	Balance string `json:"balance"`
	Score   string `json:"score"`
}

type LinkAccountRequest struct {
	ExternalID string `json:"external_id"`
}

type WithdrawRequest struct {
	Amount string `json:"amount"`
}

type WithdrawalResponse struct {
	ID       string  `json:"id"`
	Amount   string  `json:"amount"`
	Status   string  `json:"status"`
	PayoutID *string `json:"payout_id,omitempty"`
}

package dto

type LoginRequest struct {
	AccessToken string `json:"access_token"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresInSec int64  `json:"expires_in_sec"`
	UserID       int64  `json:"user_id"`
	Pseudo       string `json:"pseudo"`
	Role         string `json:"role"`
}

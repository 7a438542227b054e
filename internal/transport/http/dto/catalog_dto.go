package dto

import "time"

type ProductCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

type ProductResponse struct {
	ID          int64     `json:"id"`
	SellerID    int64     `json:"seller_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       string    `json:"price"`
	Available   bool      `json:"available"`
	CreatedAt   time.Time `json:"created_at"`
}

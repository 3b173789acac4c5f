package otp

import "time"

// OTP is one issued login code. Only the bcrypt hash of the code is stored.
type OTP struct {
	ID          int64
	PhoneNumber string
	Hash        string
	IsUsed      bool
	CreatedAt   time.Time
}

type SendRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type LoginRequest struct {
	PhoneNumber string `json:"phone_number"`
	OTP         string `json:"otp"`
}

type LoginResponse struct {
	Access string `json:"access"`
}

package models

import (
	"time"
)

// OTP challenge. Never persisted: the client gets back the email and the hash only
type Challenge struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}

// Message handed to the dispatcher to deliver the code out-of-band
type OTPMessage struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Profile returned by a federated identity provider after it verified the email
type FederatedProfile struct {
	Email  string
	Name   string
	Avatar string
}

package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	ErrInvalidOtp = errors.New("otp is invalid")
	ErrExpiredOtp = errors.New("otp is expired")

	ErrMissingToken     = errors.New("token is missing")
	ErrMalformedToken   = errors.New("token is malformed")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpiredToken     = errors.New("token is expired")

	// Refresh flow collapses any verification failure into this one
	ErrInvalidRefreshToken = errors.New("refresh token is invalid")

	ErrEmailNotVerified  = errors.New("email is not verified by identity provider")
	ErrInvalidOAuthState = errors.New("oauth state is invalid")
)

package domain

import "time"

// User represents a registered account.
//
// A verified user never carries OTP state: OTPCode and OTPExpiresAt are
// cleared in the same statement that flips IsVerified.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash []byte
	IsVerified   bool
	OTPCode      *string
	OTPExpiresAt *time.Time
	CreatedAt    time.Time
}

package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const otpDigits = 6

// generateOTP produces a uniformly random 6-digit decimal code.
func generateOTP() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n), nil
}

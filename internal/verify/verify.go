// Package verify sends and checks one-time phone verification codes.
// A Twilio Verify backend is used in production; a mock backend with locally
// generated codes serves development and tests.
package verify

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// ErrInvalidPhone indicates the phone number is not in E.164 format.
var ErrInvalidPhone = errors.New("phone number must be in E.164 format")

// e164 matches +[country][subscriber], 7 to 15 digits total.
var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// Verifier dispatches and checks one-time codes.
type Verifier interface {
	// SendCode dispatches a verification code to the phone number over the
	// given channel ("sms" or "call").
	SendCode(ctx context.Context, phone, channel string) error
	// CheckCode reports whether the submitted code is valid for the phone.
	CheckCode(ctx context.Context, phone, code string) (bool, error)
}

// Config holds verification provider settings.
type Config struct {
	AccountSID string
	AuthToken  string
	VerifySID  string
}

// ValidatePhone checks E.164 format.
func ValidatePhone(phone string) error {
	if !e164.MatchString(phone) {
		return ErrInvalidPhone
	}
	return nil
}

// New selects a backend from the config. An empty or placeholder Verify SID
// selects the mock backend so the service runs without provider credentials.
func New(cfg Config, logger *zap.Logger) (Verifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.VerifySID == "" || strings.HasPrefix(cfg.VerifySID, "VAx") {
		logger.Warn("verification provider not configured, using mock codes")
		return NewMock(logger), nil
	}

	return NewTwilio(cfg, logger)
}

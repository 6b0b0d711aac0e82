package verify

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
)

const mockCodeTTL = 5 * time.Minute

type mockCode struct {
	code      string
	expiresAt time.Time
}

// Mock generates codes locally and logs them instead of sending SMS. Codes
// expire after five minutes and are consumed on a successful check.
type Mock struct {
	mu     sync.Mutex
	codes  map[string]mockCode
	logger *zap.Logger
}

// NewMock creates a mock verifier.
func NewMock(logger *zap.Logger) *Mock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mock{
		codes:  make(map[string]mockCode),
		logger: logger,
	}
}

// SendCode generates a 6-digit code for the phone number.
func (m *Mock) SendCode(ctx context.Context, phone, channel string) error {
	if err := ValidatePhone(phone); err != nil {
		return err
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())

	m.mu.Lock()
	m.codes[phone] = mockCode{code: code, expiresAt: time.Now().Add(mockCodeTTL)}
	m.mu.Unlock()

	m.logger.Info("mock verification code issued",
		zap.String("phone", phone),
		zap.String("code", code))
	return nil
}

// CheckCode validates and consumes the pending code for the phone number.
func (m *Mock) CheckCode(ctx context.Context, phone, code string) (bool, error) {
	if err := ValidatePhone(phone); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pending, ok := m.codes[phone]
	if !ok {
		return false, nil
	}
	if time.Now().After(pending.expiresAt) {
		delete(m.codes, phone)
		return false, nil
	}
	if pending.code != code {
		return false, nil
	}

	delete(m.codes, phone)
	return true, nil
}

// SetCode pins a code for a phone number. Test helper.
func (m *Mock) SetCode(phone, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[phone] = mockCode{code: code, expiresAt: time.Now().Add(mockCodeTTL)}
}

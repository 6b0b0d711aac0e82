package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saihealth/go-care/pkg/circuitbreaker"
)

const twilioBaseURL = "https://verify.twilio.com/v2"

// Twilio implements Verifier against the Twilio Verify API. Calls go through
// a circuit breaker so a provider outage fails fast instead of tying up
// request handlers.
type Twilio struct {
	accountSID string
	authToken  string
	verifySID  string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewTwilio creates a Twilio-backed verifier.
func NewTwilio(cfg Config, logger *zap.Logger) (*Twilio, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio account SID and auth token are required")
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("twilio-verify"), logger)
	if err != nil {
		return nil, fmt.Errorf("create circuit breaker: %w", err)
	}

	return &Twilio{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		verifySID:  cfg.VerifySID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    breaker,
		logger:     logger,
	}, nil
}

type verificationResponse struct {
	Status string `json:"status"`
	SID    string `json:"sid"`
}

// SendCode starts a verification for the phone number.
func (t *Twilio) SendCode(ctx context.Context, phone, channel string) error {
	if err := ValidatePhone(phone); err != nil {
		return err
	}
	if channel == "" {
		channel = "sms"
	}

	form := url.Values{}
	form.Set("To", phone)
	form.Set("Channel", channel)

	endpoint := fmt.Sprintf("%s/Services/%s/Verifications", twilioBaseURL, t.verifySID)
	resp, err := t.post(ctx, endpoint, form)
	if err != nil {
		return fmt.Errorf("send verification: %w", err)
	}

	if resp.Status != "pending" {
		return fmt.Errorf("unexpected verification status %q", resp.Status)
	}

	t.logger.Info("verification code sent", zap.String("channel", channel))
	return nil
}

// CheckCode checks a submitted code against the pending verification.
func (t *Twilio) CheckCode(ctx context.Context, phone, code string) (bool, error) {
	if err := ValidatePhone(phone); err != nil {
		return false, err
	}

	form := url.Values{}
	form.Set("To", phone)
	form.Set("Code", code)

	endpoint := fmt.Sprintf("%s/Services/%s/VerificationCheck", twilioBaseURL, t.verifySID)
	resp, err := t.post(ctx, endpoint, form)
	if err != nil {
		return false, fmt.Errorf("check verification: %w", err)
	}

	return resp.Status == "approved", nil
}

func (t *Twilio) post(ctx context.Context, endpoint string, form url.Values) (*verificationResponse, error) {
	result, err := t.breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(t.accountSID, t.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		httpResp, err := t.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
		if err != nil {
			return nil, err
		}

		if httpResp.StatusCode >= 400 {
			return nil, fmt.Errorf("twilio returned %d: %s", httpResp.StatusCode, string(body))
		}

		var vr verificationResponse
		if err := json.Unmarshal(body, &vr); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &vr, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*verificationResponse), nil
}

package verify

import (
	"context"
	"testing"
)

func TestValidatePhone(t *testing.T) {
	valid := []string{"+15551234567", "+919876543210", "+442071234567"}
	for _, phone := range valid {
		if err := ValidatePhone(phone); err != nil {
			t.Errorf("expected %q valid, got %v", phone, err)
		}
	}

	invalid := []string{"", "15551234567", "+0123456789", "+1", "not-a-phone", "+1555123456789012345"}
	for _, phone := range invalid {
		if err := ValidatePhone(phone); err == nil {
			t.Errorf("expected %q invalid", phone)
		}
	}
}

func TestNewSelectsMockWithoutCredentials(t *testing.T) {
	v, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if _, ok := v.(*Mock); !ok {
		t.Errorf("expected mock backend for empty config, got %T", v)
	}

	v, err = New(Config{AccountSID: "AC123", AuthToken: "tok", VerifySID: "VAxPlaceholder"}, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if _, ok := v.(*Mock); !ok {
		t.Errorf("expected mock backend for placeholder verify SID, got %T", v)
	}
}

func TestNewSelectsTwilioWithCredentials(t *testing.T) {
	v, err := New(Config{AccountSID: "AC123", AuthToken: "tok", VerifySID: "VA456"}, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if _, ok := v.(*Twilio); !ok {
		t.Errorf("expected twilio backend, got %T", v)
	}
}

func TestMockCodeLifecycle(t *testing.T) {
	m := NewMock(nil)
	ctx := context.Background()
	phone := "+15551234567"

	if err := m.SendCode(ctx, phone, "sms"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	// Wrong code is rejected and does not consume the pending code.
	ok, err := m.CheckCode(ctx, phone, "000000")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if ok {
		t.Fatal("wrong code must be rejected")
	}

	m.SetCode(phone, "123456")
	ok, err = m.CheckCode(ctx, phone, "123456")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !ok {
		t.Fatal("correct code must be accepted")
	}

	// A code is single use.
	ok, _ = m.CheckCode(ctx, phone, "123456")
	if ok {
		t.Fatal("code must not be reusable")
	}
}

func TestMockRejectsUnknownPhone(t *testing.T) {
	m := NewMock(nil)
	ok, err := m.CheckCode(context.Background(), "+15551234567", "123456")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if ok {
		t.Fatal("phone without a pending code must be rejected")
	}
}

func TestMockValidatesPhone(t *testing.T) {
	m := NewMock(nil)
	if err := m.SendCode(context.Background(), "5551234567", "sms"); err == nil {
		t.Fatal("expected invalid phone rejection")
	}
}

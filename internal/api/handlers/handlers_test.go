package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/saihealth/go-care/internal/api/middleware"
	"github.com/saihealth/go-care/internal/api/session"
	"github.com/saihealth/go-care/internal/domain/record"
	"github.com/saihealth/go-care/internal/domain/workflow"
	"github.com/saihealth/go-care/internal/observability/metrics"
	"github.com/saihealth/go-care/internal/reporting"
	"github.com/saihealth/go-care/internal/store/memory"
	"github.com/saihealth/go-care/internal/verify"
)

// testMetrics registers once; prometheus rejects duplicate registration
// within the same test binary.
var testMetrics = metrics.New()

type testEnv struct {
	server *httptest.Server
	client *http.Client
	mock   *verify.Mock
	store  *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := memory.New(nil)
	mock := verify.NewMock(nil)
	svc := workflow.New(st, mock, nil)
	reporter := reporting.New(st, nil)
	sessions := session.NewManager("test-secret", false)

	authHandler := NewAuthHandler(svc, sessions, testMetrics, nil)
	patientHandler := NewPatientHandler(svc, st, sessions, nil, testMetrics, nil)
	doctorHandler := NewDoctorHandler(svc, st, reporter, testMetrics, nil)

	r := chi.NewRouter()
	r.Mount("/auth", authHandler.Routes())
	r.Route("/patient", func(r chi.Router) {
		r.Use(middleware.RequireRole(sessions, record.RolePatient))
		r.Mount("/", patientHandler.Routes())
	})
	r.Route("/doctor", func(r chi.Router) {
		r.Use(middleware.RequireRole(sessions, record.RoleDoctor))
		r.Mount("/", doctorHandler.Routes())
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	jar, _ := cookiejar.New(nil)
	return &testEnv{
		server: server,
		client: &http.Client{Jar: jar},
		mock:   mock,
		store:  st,
	}
}

func (e *testEnv) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := e.client.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.client.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (e *testEnv) registerUser(t *testing.T, role, email, phone, code string) record.User {
	t.Helper()

	resp := e.postJSON(t, "/auth/register", map[string]string{
		"name":      "Test User",
		"email":     email,
		"phone":     phone,
		"password":  "secret123",
		"role":      role,
		"specialty": "Cardiology",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("register: expected 202, got %d", resp.StatusCode)
	}

	e.mock.SetCode(phone, code)
	confirm := e.postJSON(t, "/auth/register/confirm", map[string]string{"code": code})
	if confirm.StatusCode != http.StatusCreated {
		t.Fatalf("confirm: expected 201, got %d", confirm.StatusCode)
	}
	var u record.User
	decodeBody(t, confirm, &u)
	return u
}

func TestRegisterConfirmLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	u := env.registerUser(t, "patient", "asha@example.com", "+15551230001", "111111")
	if u.PatientID == "" {
		t.Error("expected patient ID assigned")
	}

	// Confirm signs the session in; the patient area is reachable.
	resp := env.get(t, "/patient/home")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("home: expected 200, got %d", resp.StatusCode)
	}

	// Logout, then login again.
	env.postJSON(t, "/auth/logout", nil).Body.Close()
	resp = env.get(t, "/patient/home")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("home after logout: expected 401, got %d", resp.StatusCode)
	}

	login := env.postJSON(t, "/auth/login", map[string]string{"email": "asha@example.com", "password": "secret123"})
	login.Body.Close()
	if login.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", login.StatusCode)
	}
}

func TestRegisterDuplicateEmailConflict(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "patient", "asha@example.com", "+15551230001", "111111")

	resp := env.postJSON(t, "/auth/register", map[string]string{
		"name": "Imposter", "email": "asha@example.com",
		"phone": "+15559990000", "password": "pw123456", "role": "patient",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", resp.StatusCode)
	}
}

func TestConfirmWithoutPendingRegistration(t *testing.T) {
	env := newTestEnv(t)
	resp := env.postJSON(t, "/auth/register/confirm", map[string]string{"code": "111111"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 without a pending registration, got %d", resp.StatusCode)
	}
}

func TestWrongCodeAllowsRetry(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/auth/register", map[string]string{
		"name": "Asha Rao", "email": "asha@example.com",
		"phone": "+15551230001", "password": "secret123", "role": "patient",
	})
	resp.Body.Close()
	env.mock.SetCode("+15551230001", "111111")

	bad := env.postJSON(t, "/auth/register/confirm", map[string]string{"code": "999999"})
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong code, got %d", bad.StatusCode)
	}

	good := env.postJSON(t, "/auth/register/confirm", map[string]string{"code": "111111"})
	good.Body.Close()
	if good.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 on retry, got %d", good.StatusCode)
	}
}

func TestRoleGate(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "patient", "asha@example.com", "+15551230001", "111111")

	// A patient session must not reach the doctor area.
	resp := env.get(t, "/doctor/dashboard")
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong role, got %d", resp.StatusCode)
	}
}

func TestBookPrescribePayFlow(t *testing.T) {
	patientEnv := newTestEnv(t)

	// Doctor registers through a second client against the same server.
	doctorClientJar, _ := cookiejar.New(nil)
	doctorEnv := &testEnv{
		server: patientEnv.server,
		client: &http.Client{Jar: doctorClientJar},
		mock:   patientEnv.mock,
		store:  patientEnv.store,
	}

	doctor := doctorEnv.registerUser(t, "doctor", "amir@example.com", "+15551230002", "222222")
	patientEnv.registerUser(t, "patient", "asha@example.com", "+15551230001", "111111")

	// Patient books with OTP confirmation.
	resp := patientEnv.postJSON(t, "/patient/appointments", map[string]string{
		"doctor_id": doctor.DoctorID, "date": "2026-09-15", "time": "10:00",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("book: expected 202, got %d", resp.StatusCode)
	}
	patientEnv.mock.SetCode("+15551230001", "333333")

	confirm := patientEnv.postJSON(t, "/patient/appointments/confirm", map[string]string{"code": "333333"})
	if confirm.StatusCode != http.StatusCreated {
		t.Fatalf("confirm booking: expected 201, got %d", confirm.StatusCode)
	}
	var appt record.Appointment
	decodeBody(t, confirm, &appt)

	// Doctor issues a prescription, completing the appointment.
	issue := doctorEnv.postJSON(t, "/doctor/prescriptions", map[string]interface{}{
		"appointment_id": appt.ID, "medication": "Metformin", "notes": "after meals", "fee": 250,
	})
	if issue.StatusCode != http.StatusCreated {
		t.Fatalf("issue: expected 201, got %d", issue.StatusCode)
	}
	var p record.Prescription
	decodeBody(t, issue, &p)

	// Re-issuing against the completed appointment conflicts.
	again := doctorEnv.postJSON(t, "/doctor/prescriptions", map[string]interface{}{
		"appointment_id": appt.ID, "medication": "Aspirin",
	})
	again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("re-issue: expected 409, got %d", again.StatusCode)
	}

	// Mismatched amount is rejected.
	bad := patientEnv.postJSON(t, "/patient/payments", map[string]interface{}{
		"prescription_id": p.ID, "amount": 200, "payment_method": "Card",
	})
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("mismatched amount: expected 400, got %d", bad.StatusCode)
	}

	// Exact amount settles.
	pay := patientEnv.postJSON(t, "/patient/payments", map[string]interface{}{
		"prescription_id": p.ID, "amount": 250, "payment_method": "Card",
	})
	if pay.StatusCode != http.StatusCreated {
		t.Fatalf("pay: expected 201, got %d", pay.StatusCode)
	}
	var payment record.Payment
	decodeBody(t, pay, &payment)
	if payment.Amount != 250 || payment.Status != "Completed" {
		t.Errorf("unexpected payment: %+v", payment)
	}

	// A second settlement conflicts.
	dup := patientEnv.postJSON(t, "/patient/payments", map[string]interface{}{
		"prescription_id": p.ID, "amount": 250, "payment_method": "Card",
	})
	dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate pay: expected 409, got %d", dup.StatusCode)
	}

	// The receipt view returns the settled payment.
	receipt := patientEnv.get(t, "/patient/payments/success/"+p.ID)
	if receipt.StatusCode != http.StatusOK {
		t.Fatalf("receipt: expected 200, got %d", receipt.StatusCode)
	}
	var body struct {
		Prescription record.Prescription `json:"prescription"`
		Payment      record.Payment      `json:"payment"`
	}
	decodeBody(t, receipt, &body)
	if body.Payment.Amount != 250 {
		t.Errorf("receipt amount: expected 250, got %d", body.Payment.Amount)
	}
	if body.Prescription.PaymentStatus != record.PaymentCompleted {
		t.Errorf("receipt prescription status: %q", body.Prescription.PaymentStatus)
	}
}

func TestDoctorMonthlyExportCSV(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "doctor", "amir@example.com", "+15551230002", "222222")

	resp := env.get(t, "/doctor/stats/monthly/export")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %q", ct)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	want := "month_year,year,month,count,total_earnings"
	if got := buf.String(); len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("expected CSV header %q, got %q", want, got)
	}
}

func TestAvailabilityToggleAffectsDoctorListing(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "doctor", "amir@example.com", "+15551230002", "222222")

	toggle := env.postJSON(t, "/doctor/availability/toggle", nil)
	var result map[string]bool
	decodeBody(t, toggle, &result)
	if result["available"] {
		t.Fatal("expected availability to flip to false")
	}

	// Patient in a separate client sees no available doctors.
	jar, _ := cookiejar.New(nil)
	patientEnv := &testEnv{server: env.server, client: &http.Client{Jar: jar}, mock: env.mock, store: env.store}
	patientEnv.registerUser(t, "patient", "asha@example.com", "+15551230001", "111111")

	resp := patientEnv.get(t, "/patient/doctors")
	var listing struct {
		Doctors []record.User `json:"doctors"`
	}
	decodeBody(t, resp, &listing)
	if len(listing.Doctors) != 0 {
		t.Fatalf("expected no available doctors, got %d", len(listing.Doctors))
	}
}

func TestPendingPaymentsListing(t *testing.T) {
	env := newTestEnv(t)
	patient := env.registerUser(t, "patient", "asha@example.com", "+15551230001", "111111")

	// Seed a pending prescription directly in the store.
	apptID := fmt.Sprintf("appt-%s", patient.PatientID)
	env.store.SaveAppointment(context.Background(), &record.Appointment{
		ID: apptID, PatientID: patient.PatientID, DoctorID: "DOC-1",
		Date: "2026-09-01", Time: "10:00", Status: record.AppointmentBooked,
	})
	env.store.IssuePrescription(context.Background(), &record.Prescription{
		ID: "rx-1", PatientID: patient.PatientID, DoctorID: "DOC-1",
		Date: "2026-09-01", Medication: []string{"Metformin"},
		Amount: 200, PaymentStatus: record.PaymentPending,
	}, apptID)

	resp := env.get(t, "/patient/payments/pending")
	var body struct {
		Pending []record.Prescription `json:"pending_prescriptions"`
	}
	decodeBody(t, resp, &body)
	if len(body.Pending) != 1 || body.Pending[0].ID != "rx-1" {
		t.Fatalf("expected rx-1 pending, got %+v", body.Pending)
	}
}

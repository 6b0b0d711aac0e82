package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/saihealth/go-care/internal/domain/record"
	"github.com/saihealth/go-care/internal/store"
	"github.com/saihealth/go-care/internal/store/memory"
	"github.com/saihealth/go-care/internal/verify"
)

// countingVerifier wraps the mock verifier and counts code dispatches.
type countingVerifier struct {
	*verify.Mock
	sends int
}

func (c *countingVerifier) SendCode(ctx context.Context, phone, channel string) error {
	c.sends++
	return c.Mock.SendCode(ctx, phone, channel)
}

func newTestService(t *testing.T) (*Service, *memory.Store, *countingVerifier) {
	t.Helper()
	st := memory.New(nil)
	cv := &countingVerifier{Mock: verify.NewMock(nil)}
	return New(st, cv, nil), st, cv
}

const (
	patientPhone = "+15551230001"
	doctorPhone  = "+15551230002"
)

func registerPatient(t *testing.T, svc *Service, cv *countingVerifier, email string) *record.User {
	t.Helper()
	pending, err := svc.StartRegistration(context.Background(), "Asha Rao", email, patientPhone, "secret123", record.RolePatient, "")
	if err != nil {
		t.Fatalf("start registration failed: %v", err)
	}
	cv.SetCode(patientPhone, "111111")
	u, err := svc.ConfirmRegistration(context.Background(), pending, "111111")
	if err != nil {
		t.Fatalf("confirm registration failed: %v", err)
	}
	return u
}

func registerDoctor(t *testing.T, svc *Service, cv *countingVerifier, email string) *record.User {
	t.Helper()
	pending, err := svc.StartRegistration(context.Background(), "Amir Khan", email, doctorPhone, "secret123", record.RoleDoctor, "Cardiology")
	if err != nil {
		t.Fatalf("start registration failed: %v", err)
	}
	cv.SetCode(doctorPhone, "222222")
	u, err := svc.ConfirmRegistration(context.Background(), pending, "222222")
	if err != nil {
		t.Fatalf("confirm registration failed: %v", err)
	}
	return u
}

func bookAppointment(t *testing.T, svc *Service, cv *countingVerifier, patient *record.User, doctorID string) *record.Appointment {
	t.Helper()
	pending, err := svc.StartBooking(context.Background(), patient, doctorID, "2026-09-15", "10:00")
	if err != nil {
		t.Fatalf("start booking failed: %v", err)
	}
	cv.SetCode(patient.Phone, "333333")
	appt, err := svc.ConfirmBooking(context.Background(), pending, "333333")
	if err != nil {
		t.Fatalf("confirm booking failed: %v", err)
	}
	return appt
}

func TestRegistrationAssignsRoleDefaults(t *testing.T) {
	svc, _, cv := newTestService(t)

	patient := registerPatient(t, svc, cv, "asha@example.com")
	if !strings.HasPrefix(patient.PatientID, "PAT-") {
		t.Errorf("expected PAT- prefixed ID, got %q", patient.PatientID)
	}
	if patient.Age != record.NotSpecified || patient.Gender != record.NotSpecified {
		t.Errorf("expected Not specified defaults, got age=%q gender=%q", patient.Age, patient.Gender)
	}
	if patient.ProfilePicURL != record.DefaultProfilePic {
		t.Errorf("expected default profile pic, got %q", patient.ProfilePicURL)
	}

	doctor := registerDoctor(t, svc, cv, "amir@example.com")
	if !strings.HasPrefix(doctor.DoctorID, "DOC-") {
		t.Errorf("expected DOC- prefixed ID, got %q", doctor.DoctorID)
	}
	if !doctor.Available {
		t.Error("new doctors must start available")
	}
	if doctor.Specialty != "Cardiology" {
		t.Errorf("expected specialty carried over, got %q", doctor.Specialty)
	}
}

func TestDuplicateEmailRejectedBeforeCodeSend(t *testing.T) {
	svc, _, cv := newTestService(t)
	registerPatient(t, svc, cv, "asha@example.com")
	sendsBefore := cv.sends

	_, err := svc.StartRegistration(context.Background(), "Imposter", "asha@example.com", "+15559990000", "pw123456", record.RolePatient, "")
	if !errors.Is(err, store.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if cv.sends != sendsBefore {
		t.Errorf("no code may be dispatched for a taken email, sends went %d -> %d", sendsBefore, cv.sends)
	}
}

func TestWrongCodeKeepsPendingRegistrationUsable(t *testing.T) {
	svc, st, cv := newTestService(t)

	pending, err := svc.StartRegistration(context.Background(), "Asha Rao", "asha@example.com", patientPhone, "secret123", record.RolePatient, "")
	if err != nil {
		t.Fatalf("start registration failed: %v", err)
	}
	cv.SetCode(patientPhone, "111111")

	if _, err := svc.ConfirmRegistration(context.Background(), pending, "999999"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if _, err := st.GetUser(context.Background(), "asha@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("no account may exist after a rejected code")
	}

	// The same pending registration succeeds with the right code.
	cv.SetCode(patientPhone, "111111")
	if _, err := svc.ConfirmRegistration(context.Background(), pending, "111111"); err != nil {
		t.Fatalf("retry with correct code failed: %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _, cv := newTestService(t)
	registerPatient(t, svc, cv, "asha@example.com")

	if _, err := svc.Login(context.Background(), "asha@example.com", "secret123"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := svc.Login(context.Background(), "asha@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestBookingRejectsUnavailableDoctor(t *testing.T) {
	svc, st, cv := newTestService(t)
	patient := registerPatient(t, svc, cv, "asha@example.com")
	doctor := registerDoctor(t, svc, cv, "amir@example.com")

	if err := st.SetAvailability(context.Background(), doctor.Email, false); err != nil {
		t.Fatalf("set availability failed: %v", err)
	}

	_, err := svc.StartBooking(context.Background(), patient, doctor.DoctorID, "2026-09-15", "10:00")
	if !errors.Is(err, ErrDoctorUnavailable) {
		t.Fatalf("expected ErrDoctorUnavailable, got %v", err)
	}

	_, err = svc.StartBooking(context.Background(), patient, "DOC-NOPE", "2026-09-15", "10:00")
	if !errors.Is(err, ErrDoctorUnavailable) {
		t.Fatalf("expected ErrDoctorUnavailable for unknown doctor, got %v", err)
	}
}

func TestBookingConfirmPersistsAppointment(t *testing.T) {
	svc, st, cv := newTestService(t)
	patient := registerPatient(t, svc, cv, "asha@example.com")
	doctor := registerDoctor(t, svc, cv, "amir@example.com")

	appt := bookAppointment(t, svc, cv, patient, doctor.DoctorID)
	if appt.Status != record.AppointmentBooked {
		t.Errorf("expected Booked status, got %s", appt.Status)
	}
	if appt.PatientName != patient.Name {
		t.Errorf("expected patient name denormalized, got %q", appt.PatientName)
	}

	stored, err := st.GetAppointment(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("appointment not persisted: %v", err)
	}
	if stored.DoctorID != doctor.DoctorID {
		t.Errorf("stored doctor mismatch: %s", stored.DoctorID)
	}
}

func TestWrongCodeRetainsPendingBooking(t *testing.T) {
	svc, st, cv := newTestService(t)
	patient := registerPatient(t, svc, cv, "asha@example.com")
	doctor := registerDoctor(t, svc, cv, "amir@example.com")

	pending, err := svc.StartBooking(context.Background(), patient, doctor.DoctorID, "2026-09-15", "10:00")
	if err != nil {
		t.Fatalf("start booking failed: %v", err)
	}
	cv.SetCode(patientPhone, "333333")

	if _, err := svc.ConfirmBooking(context.Background(), pending, "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	appts, _ := st.ListAppointmentsByDoctor(context.Background(), doctor.DoctorID)
	if len(appts) != 0 {
		t.Fatal("no appointment may persist after a rejected code")
	}

	cv.SetCode(patientPhone, "333333")
	if _, err := svc.ConfirmBooking(context.Background(), pending, "333333"); err != nil {
		t.Fatalf("retry with correct code failed: %v", err)
	}
}

func TestIssuePrescriptionCompletesOnlyReferencedAppointment(t *testing.T) {
	svc, st, cv := newTestService(t)
	patient := registerPatient(t, svc, cv, "asha@example.com")
	doctor := registerDoctor(t, svc, cv, "amir@example.com")

	first := bookAppointment(t, svc, cv, patient, doctor.DoctorID)
	second := bookAppointment(t, svc, cv, patient, doctor.DoctorID)

	p, err := svc.IssuePrescription(context.Background(), doctor, first.ID, "Atorvastatin, Metformin", "after meals", 0)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if p.Amount != record.DefaultPrescriptionFee {
		t.Errorf("expected default fee %d, got %d", record.DefaultPrescriptionFee, p.Amount)
	}
	if len(p.Medication) != 2 || p.Medication[0] != "Atorvastatin" || p.Medication[1] != "Metformin" {
		t.Errorf("medication list not parsed: %v", p.Medication)
	}
	if p.PaymentStatus != record.PaymentPending {
		t.Errorf("new prescription must be pending, got %s", p.PaymentStatus)
	}

	done, _ := st.GetAppointment(context.Background(), first.ID)
	if done.Status != record.AppointmentCompleted {
		t.Errorf("referenced appointment must complete, got %s", done.Status)
	}
	untouched, _ := st.GetAppointment(context.Background(), second.ID)
	if untouched.Status != record.AppointmentBooked {
		t.Errorf("other appointment must stay Booked, got %s", untouched.Status)
	}

	// Re-issuing against the completed appointment fails.
	if _, err := svc.IssuePrescription(context.Background(), doctor, first.ID, "Aspirin", "", 0); !errors.Is(err, store.ErrNotBooked) {
		t.Fatalf("expected ErrNotBooked, got %v", err)
	}
}

func TestIssuePrescriptionRejectsForeignDoctor(t *testing.T) {
	svc, _, cv := newTestService(t)
	patient := registerPatient(t, svc, cv, "asha@example.com")
	doctor := registerDoctor(t, svc, cv, "amir@example.com")
	appt := bookAppointment(t, svc, cv, patient, doctor.DoctorID)

	other := &record.User{Role: record.RoleDoctor, DoctorID: "DOC-OTHER", Name: "Someone Else"}
	if _, err := svc.IssuePrescription(context.Background(), other, appt.ID, "Aspirin", "", 0); err == nil {
		t.Fatal("expected rejection for a doctor not assigned to the appointment")
	}
}

func TestIssuePrescriptionRejectsInvalidFee(t *testing.T) {
	svc, _, cv := newTestService(t)
	patient := registerPatient(t, svc, cv, "asha@example.com")
	doctor := registerDoctor(t, svc, cv, "amir@example.com")
	appt := bookAppointment(t, svc, cv, patient, doctor.DoctorID)

	if _, err := svc.IssuePrescription(context.Background(), doctor, appt.ID, "Aspirin", "", -5); !errors.Is(err, ErrInvalidFee) {
		t.Fatalf("expected ErrInvalidFee, got %v", err)
	}
}

func TestProcessPaymentAmountMustMatchFee(t *testing.T) {
	svc, _, cv := newTestService(t)
	patient := registerPatient(t, svc, cv, "asha@example.com")
	doctor := registerDoctor(t, svc, cv, "amir@example.com")
	appt := bookAppointment(t, svc, cv, patient, doctor.DoctorID)

	p, err := svc.IssuePrescription(context.Background(), doctor, appt.ID, "Metformin", "", 250)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := svc.ProcessPayment(context.Background(), patient, p.ID, 200, "Card"); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}

	pay, err := svc.ProcessPayment(context.Background(), patient, p.ID, 250, "Card")
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	if pay.Amount != 250 || pay.Method != "Card" || pay.Status != "Completed" {
		t.Errorf("unexpected payment: %+v", pay)
	}
	if pay.DoctorID != doctor.DoctorID {
		t.Errorf("payment must credit the prescribing doctor, got %s", pay.DoctorID)
	}

	// The fee settles exactly once.
	if _, err := svc.ProcessPayment(context.Background(), patient, p.ID, 250, "Card"); !errors.Is(err, store.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
}

func TestProcessPaymentRejectsForeignPatient(t *testing.T) {
	svc, _, cv := newTestService(t)
	patient := registerPatient(t, svc, cv, "asha@example.com")
	doctor := registerDoctor(t, svc, cv, "amir@example.com")
	appt := bookAppointment(t, svc, cv, patient, doctor.DoctorID)
	p, _ := svc.IssuePrescription(context.Background(), doctor, appt.ID, "Metformin", "", 250)

	other := &record.User{Role: record.RolePatient, PatientID: "PAT-OTHER", Name: "Someone Else"}
	if _, err := svc.ProcessPayment(context.Background(), other, p.ID, 250, "Card"); err == nil {
		t.Fatal("expected rejection for a foreign patient")
	}
}

func TestToggleAvailability(t *testing.T) {
	svc, st, cv := newTestService(t)
	doctor := registerDoctor(t, svc, cv, "amir@example.com")

	available, err := svc.ToggleAvailability(context.Background(), doctor)
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if available {
		t.Error("expected availability to flip to false")
	}

	stored, _ := st.GetUser(context.Background(), doctor.Email)
	available, err = svc.ToggleAvailability(context.Background(), stored)
	if err != nil {
		t.Fatalf("second toggle failed: %v", err)
	}
	if !available {
		t.Error("expected availability to flip back to true")
	}
}

func TestUpdateProfileValidatesPicChoice(t *testing.T) {
	svc, st, cv := newTestService(t)
	patient := registerPatient(t, svc, cv, "asha@example.com")

	if err := svc.UpdateProfile(context.Background(), patient, "34", "female", "avatar_1"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	u, _ := st.GetUser(context.Background(), patient.Email)
	if u.Age != "34" || u.ProfilePicURL != record.ProfilePicChoices["avatar_1"] {
		t.Errorf("profile not updated: %+v", u)
	}

	if err := svc.UpdateProfile(context.Background(), u, "", "", "not_a_choice"); !errors.Is(err, ErrInvalidProfilePic) {
		t.Fatalf("expected ErrInvalidProfilePic, got %v", err)
	}
}

func TestPatientHistoryJoinsPayments(t *testing.T) {
	svc, _, cv := newTestService(t)
	patient := registerPatient(t, svc, cv, "asha@example.com")
	doctor := registerDoctor(t, svc, cv, "amir@example.com")

	paid := bookAppointment(t, svc, cv, patient, doctor.DoctorID)
	unpaid := bookAppointment(t, svc, cv, patient, doctor.DoctorID)

	p1, _ := svc.IssuePrescription(context.Background(), doctor, paid.ID, "Metformin", "", 250)
	p2, _ := svc.IssuePrescription(context.Background(), doctor, unpaid.ID, "Aspirin", "", 150)
	if _, err := svc.ProcessPayment(context.Background(), patient, p1.ID, 250, "Card"); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	entries, err := svc.PatientHistory(context.Background(), patient)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(entries))
	}

	for _, e := range entries {
		switch e.Prescription.ID {
		case p1.ID:
			if e.Payment == nil {
				t.Error("settled prescription must carry its payment")
			}
		case p2.ID:
			if e.Payment != nil {
				t.Error("pending prescription must not carry a payment")
			}
		default:
			t.Errorf("unexpected prescription %s", e.Prescription.ID)
		}
	}
}

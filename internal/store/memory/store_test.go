package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/saihealth/go-care/internal/domain/record"
	"github.com/saihealth/go-care/internal/store"
)

func newPatient(email, patientID string) *record.User {
	return &record.User{
		Email:         email,
		Name:          "Asha Rao",
		Phone:         "+15551230001",
		PasswordHash:  "x",
		Role:          record.RolePatient,
		PatientID:     patientID,
		Age:           record.NotSpecified,
		Gender:        record.NotSpecified,
		ProfilePicURL: record.DefaultProfilePic,
	}
}

func newDoctor(email, doctorID, name string, available bool) *record.User {
	return &record.User{
		Email:        email,
		Name:         name,
		Phone:        "+15551230002",
		PasswordHash: "x",
		Role:         record.RoleDoctor,
		DoctorID:     doctorID,
		Specialty:    "Cardiology",
		Available:    available,
	}
}

func TestSaveUserDuplicateEmail(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if err := s.SaveUser(ctx, newPatient("a@example.com", "PAT-1")); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	err := s.SaveUser(ctx, newPatient("a@example.com", "PAT-2"))
	if !errors.Is(err, store.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := New(nil)
	if _, err := s.GetUser(context.Background(), "nobody@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAvailableDoctorsSortedAndFiltered(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	s.SaveUser(ctx, newDoctor("z@example.com", "DOC-1", "Zoe Okafor", true))
	s.SaveUser(ctx, newDoctor("a@example.com", "DOC-2", "Amir Khan", true))
	s.SaveUser(ctx, newDoctor("b@example.com", "DOC-3", "Bela Nagy", false))
	s.SaveUser(ctx, newPatient("p@example.com", "PAT-1"))

	doctors, err := s.ListAvailableDoctors(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(doctors) != 2 {
		t.Fatalf("expected 2 available doctors, got %d", len(doctors))
	}
	if doctors[0].Name != "Amir Khan" || doctors[1].Name != "Zoe Okafor" {
		t.Errorf("expected doctors sorted by name, got %s, %s", doctors[0].Name, doctors[1].Name)
	}
}

func TestSetAvailability(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	s.SaveUser(ctx, newDoctor("d@example.com", "DOC-1", "Amir Khan", true))

	if err := s.SetAvailability(ctx, "d@example.com", false); err != nil {
		t.Fatalf("set availability failed: %v", err)
	}
	u, _ := s.GetUser(ctx, "d@example.com")
	if u.Available {
		t.Error("expected doctor to be unavailable")
	}

	if err := s.SetAvailability(ctx, "p@example.com", true); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown email, got %v", err)
	}
}

func TestIssuePrescriptionCompletesAppointmentOnce(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	appt := &record.Appointment{
		ID: "appt-1", PatientID: "PAT-1", DoctorID: "DOC-1",
		PatientName: "Asha Rao", Date: "2026-09-01", Time: "10:00",
		Status: record.AppointmentBooked,
	}
	other := &record.Appointment{
		ID: "appt-2", PatientID: "PAT-1", DoctorID: "DOC-1",
		PatientName: "Asha Rao", Date: "2026-09-02", Time: "11:00",
		Status: record.AppointmentBooked,
	}
	s.SaveAppointment(ctx, appt)
	s.SaveAppointment(ctx, other)

	p := &record.Prescription{
		ID: "rx-1", PatientID: "PAT-1", DoctorID: "DOC-1",
		Date: "2026-09-01", Medication: []string{"Atorvastatin"},
		Amount: 200, PaymentStatus: record.PaymentPending,
	}
	if err := s.IssuePrescription(ctx, p, "appt-1"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	got, _ := s.GetAppointment(ctx, "appt-1")
	if got.Status != record.AppointmentCompleted {
		t.Errorf("expected appt-1 Completed, got %s", got.Status)
	}
	untouched, _ := s.GetAppointment(ctx, "appt-2")
	if untouched.Status != record.AppointmentBooked {
		t.Errorf("expected appt-2 still Booked, got %s", untouched.Status)
	}

	// A second issuance against the completed appointment must fail.
	dup := &record.Prescription{ID: "rx-2", PatientID: "PAT-1", DoctorID: "DOC-1", Date: "2026-09-01", Amount: 200, PaymentStatus: record.PaymentPending}
	if err := s.IssuePrescription(ctx, dup, "appt-1"); !errors.Is(err, store.ErrNotBooked) {
		t.Fatalf("expected ErrNotBooked, got %v", err)
	}
	if _, err := s.GetPrescription(ctx, "rx-2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rejected prescription must not persist, got %v", err)
	}
}

func TestRecordPaymentOneShot(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	appt := &record.Appointment{ID: "appt-1", PatientID: "PAT-1", DoctorID: "DOC-1", Date: "2026-09-01", Time: "10:00", Status: record.AppointmentBooked}
	s.SaveAppointment(ctx, appt)
	p := &record.Prescription{ID: "rx-1", PatientID: "PAT-1", DoctorID: "DOC-1", Date: "2026-09-01", Medication: []string{"Metformin"}, Amount: 250, PaymentStatus: record.PaymentPending}
	s.IssuePrescription(ctx, p, "appt-1")

	pay := &record.Payment{
		ID: "pay-1", PatientID: "PAT-1", PatientName: "Asha Rao", DoctorID: "DOC-1",
		Amount: 250, Method: "Card",
		Timestamp: "2026-09-01 14:30:00", Date: "2026-09-01", Status: "Completed",
	}
	if err := s.RecordPayment(ctx, pay, "rx-1"); err != nil {
		t.Fatalf("record payment failed: %v", err)
	}

	settled, _ := s.GetPrescription(ctx, "rx-1")
	if settled.PaymentStatus != record.PaymentCompleted {
		t.Errorf("expected prescription completed, got %s", settled.PaymentStatus)
	}

	dup := &record.Payment{ID: "pay-2", PatientID: "PAT-1", DoctorID: "DOC-1", Amount: 250, Date: "2026-09-01", Status: "Completed"}
	if err := s.RecordPayment(ctx, dup, "rx-1"); !errors.Is(err, store.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}

	payments, _ := s.ListPaymentsByDoctor(ctx, "DOC-1")
	if len(payments) != 1 {
		t.Fatalf("expected exactly 1 payment, got %d", len(payments))
	}
}

func TestPendingPrescriptionsExcludeSettled(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	for i, id := range []string{"appt-1", "appt-2"} {
		s.SaveAppointment(ctx, &record.Appointment{ID: id, PatientID: "PAT-1", DoctorID: "DOC-1", Date: fmt.Sprintf("2026-09-0%d", i+1), Time: "10:00", Status: record.AppointmentBooked})
	}
	s.IssuePrescription(ctx, &record.Prescription{ID: "rx-1", PatientID: "PAT-1", DoctorID: "DOC-1", Date: "2026-09-01", Amount: 200, PaymentStatus: record.PaymentPending}, "appt-1")
	s.IssuePrescription(ctx, &record.Prescription{ID: "rx-2", PatientID: "PAT-1", DoctorID: "DOC-1", Date: "2026-09-02", Amount: 150, PaymentStatus: record.PaymentPending}, "appt-2")

	s.RecordPayment(ctx, &record.Payment{ID: "pay-1", PatientID: "PAT-1", DoctorID: "DOC-1", Amount: 200, Date: "2026-09-01", Status: "Completed"}, "rx-1")

	pending, err := s.ListPendingPrescriptionsByPatient(ctx, "PAT-1")
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "rx-2" {
		t.Fatalf("expected only rx-2 pending, got %+v", pending)
	}
}

func TestFindPaymentForPrescription(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	s.SaveAppointment(ctx, &record.Appointment{ID: "appt-1", PatientID: "PAT-1", DoctorID: "DOC-1", Date: "2026-09-01", Time: "10:00", Status: record.AppointmentBooked})
	p := &record.Prescription{ID: "rx-1", PatientID: "PAT-1", DoctorID: "DOC-1", Date: "2026-09-01", Amount: 200, PaymentStatus: record.PaymentPending}
	s.IssuePrescription(ctx, p, "appt-1")

	pay := &record.Payment{ID: "pay-1", PatientID: "PAT-1", DoctorID: "DOC-1", Amount: 200, Timestamp: "2026-09-01 09:00:00", Date: "2026-09-01", Status: "Completed"}
	s.RecordPayment(ctx, pay, "rx-1")

	found, err := s.FindPaymentForPrescription(ctx, p)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if found.ID != "pay-1" {
		t.Errorf("expected pay-1, got %s", found.ID)
	}

	unpaid := &record.Prescription{PatientID: "PAT-1", DoctorID: "DOC-1", Date: "2026-09-09"}
	if _, err := s.FindPaymentForPrescription(ctx, unpaid); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	s.SaveUser(ctx, newPatient("p@example.com", "PAT-1"))

	if err := s.UpdateProfile(ctx, "p@example.com", "34", "female", record.ProfilePicChoices["avatar_2"]); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	u, _ := s.GetUser(ctx, "p@example.com")
	if u.Age != "34" || u.Gender != "female" || u.ProfilePicURL != record.ProfilePicChoices["avatar_2"] {
		t.Errorf("profile not updated: %+v", u)
	}
}

func TestClonesAreIsolated(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	s.SaveUser(ctx, newPatient("p@example.com", "PAT-1"))

	u, _ := s.GetUser(ctx, "p@example.com")
	u.Name = "mutated"

	again, _ := s.GetUser(ctx, "p@example.com")
	if again.Name == "mutated" {
		t.Error("store must not share memory with callers")
	}
}

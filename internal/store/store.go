// Package store defines the record store contract backing users,
// appointments, prescriptions, and payments. Two implementations exist:
// postgres (durable) and memory (fallback when the database is unreachable
// at startup). Both enforce the same transition semantics.
package store

import (
	"context"
	"errors"

	"github.com/saihealth/go-care/internal/domain/record"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail indicates a user with that email already exists.
	ErrDuplicateEmail = errors.New("user with this email already exists")
	// ErrAlreadyPaid indicates the prescription payment already settled.
	ErrAlreadyPaid = errors.New("prescription already paid")
	// ErrNotBooked indicates the appointment is not in the Booked state.
	ErrNotBooked = errors.New("appointment is not booked")
)

// Store is the polymorphic record store interface.
type Store interface {
	// Users
	GetUser(ctx context.Context, email string) (*record.User, error)
	GetDoctorByID(ctx context.Context, doctorID string) (*record.User, error)
	GetPatientByID(ctx context.Context, patientID string) (*record.User, error)
	ListAvailableDoctors(ctx context.Context) ([]*record.User, error)
	SaveUser(ctx context.Context, u *record.User) error
	UpdateProfile(ctx context.Context, email, age, gender, picURL string) error
	SetAvailability(ctx context.Context, email string, available bool) error

	// Appointments
	SaveAppointment(ctx context.Context, a *record.Appointment) error
	GetAppointment(ctx context.Context, id string) (*record.Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID string) ([]*record.Appointment, error)

	// Prescriptions. IssuePrescription inserts the prescription and
	// transitions the referenced appointment Booked -> Completed in one
	// atomic step; it fails with ErrNotBooked if the appointment has
	// already been completed.
	IssuePrescription(ctx context.Context, p *record.Prescription, appointmentID string) error
	GetPrescription(ctx context.Context, id string) (*record.Prescription, error)
	ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]*record.Prescription, error)
	ListPendingPrescriptionsByPatient(ctx context.Context, patientID string) ([]*record.Prescription, error)
	ListPrescriptionsByDoctor(ctx context.Context, doctorID string) ([]*record.Prescription, error)

	// Payments. RecordPayment inserts the payment and transitions the
	// prescription's payment status pending -> completed in one atomic
	// step; a prescription that already settled fails with ErrAlreadyPaid.
	RecordPayment(ctx context.Context, pay *record.Payment, prescriptionID string) error
	ListPaymentsByDoctorAndDate(ctx context.Context, doctorID, date string) ([]*record.Payment, error)
	ListPaymentsByDoctor(ctx context.Context, doctorID string) ([]*record.Payment, error)
	FindPaymentForPrescription(ctx context.Context, p *record.Prescription) (*record.Payment, error)

	Ping(ctx context.Context) error
}

// Package postgres implements the durable record store on PostgreSQL.
// Dual-effect operations (prescription + appointment completion, payment +
// prescription status) run in a single transaction, and domain events are
// written to the outbox inside the same transaction.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/saihealth/go-care/internal/domain/record"
	outbox "github.com/saihealth/go-care/internal/infrastructure/postgres"
	"github.com/saihealth/go-care/internal/infrastructure/redpanda"
	"github.com/saihealth/go-care/internal/store"
)

// Store is the pgx-backed record store.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New creates a postgres store.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

const userColumns = `email, name, phone, password_hash, role,
	patient_id, age, gender, profile_pic_url,
	doctor_id, specialty, available`

func scanUser(row pgx.Row) (*record.User, error) {
	u := &record.User{}
	err := row.Scan(
		&u.Email, &u.Name, &u.Phone, &u.PasswordHash, &u.Role,
		&u.PatientID, &u.Age, &u.Gender, &u.ProfilePicURL,
		&u.DoctorID, &u.Specialty, &u.Available,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// GetUser returns the user keyed by email.
func (s *Store) GetUser(ctx context.Context, email string) (*record.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(s.pool.QueryRow(ctx, query, email))
}

// GetDoctorByID returns the doctor with the given doctor identifier.
func (s *Store) GetDoctorByID(ctx context.Context, doctorID string) (*record.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE doctor_id = $1 AND role = 'doctor'`
	return scanUser(s.pool.QueryRow(ctx, query, doctorID))
}

// GetPatientByID returns the patient with the given patient identifier.
func (s *Store) GetPatientByID(ctx context.Context, patientID string) (*record.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE patient_id = $1 AND role = 'patient'`
	return scanUser(s.pool.QueryRow(ctx, query, patientID))
}

// ListAvailableDoctors returns all doctors currently accepting bookings.
func (s *Store) ListAvailableDoctors(ctx context.Context) ([]*record.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = 'doctor' AND available ORDER BY name`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doctors []*record.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		doctors = append(doctors, u)
	}
	return doctors, rows.Err()
}

// SaveUser inserts a new user and emits UserRegistered through the outbox.
func (s *Store) SaveUser(ctx context.Context, u *record.User) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (email) DO NOTHING
	`
	tag, err := tx.Exec(ctx, query,
		u.Email, u.Name, u.Phone, u.PasswordHash, u.Role,
		u.PatientID, u.Age, u.Gender, u.ProfilePicURL,
		u.DoctorID, u.Specialty, u.Available,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrDuplicateEmail
	}

	payload, _ := json.Marshal(record.UserRegisteredEvent{
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		PatientID:    u.PatientID,
		DoctorID:     u.DoctorID,
		RegisteredAt: time.Now().UTC(),
	})
	entry := &outbox.Entry{
		AggregateID:   u.Email,
		AggregateType: "User",
		EventType:     string(record.EventUserRegistered),
		Payload:       payload,
		Topic:         redpanda.TopicUsers,
		Key:           u.Email,
	}
	if err := outbox.WriteEntry(ctx, tx, entry); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// UpdateProfile updates the mutable patient profile fields.
func (s *Store) UpdateProfile(ctx context.Context, email, age, gender, picURL string) error {
	query := `UPDATE users SET age = $2, gender = $3, profile_pic_url = $4 WHERE email = $1`
	tag, err := s.pool.Exec(ctx, query, email, age, gender, picURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetAvailability flips the doctor availability flag.
func (s *Store) SetAvailability(ctx context.Context, email string, available bool) error {
	query := `UPDATE users SET available = $2 WHERE email = $1 AND role = 'doctor'`
	tag, err := s.pool.Exec(ctx, query, email, available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveAppointment inserts a confirmed appointment and emits
// AppointmentBooked through the outbox.
func (s *Store) SaveAppointment(ctx context.Context, a *record.Appointment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO appointments (id, patient_id, doctor_id, patient_name, date, time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.Exec(ctx, query,
		a.ID, a.PatientID, a.DoctorID, a.PatientName, a.Date, a.Time, a.Status,
	); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	payload, _ := json.Marshal(record.AppointmentBookedEvent{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		PatientName:   a.PatientName,
		DoctorID:      a.DoctorID,
		Date:          a.Date,
		Time:          a.Time,
		BookedAt:      time.Now().UTC(),
	})
	entry := &outbox.Entry{
		AggregateID:   a.ID,
		AggregateType: "Appointment",
		EventType:     string(record.EventAppointmentBooked),
		Payload:       payload,
		Topic:         redpanda.TopicAppointments,
		Key:           a.ID,
	}
	if err := outbox.WriteEntry(ctx, tx, entry); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func scanAppointment(row pgx.Row) (*record.Appointment, error) {
	a := &record.Appointment{}
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.PatientName, &a.Date, &a.Time, &a.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// GetAppointment returns one appointment by ID.
func (s *Store) GetAppointment(ctx context.Context, id string) (*record.Appointment, error) {
	query := `SELECT id, patient_id, doctor_id, patient_name, date, time, status FROM appointments WHERE id = $1`
	return scanAppointment(s.pool.QueryRow(ctx, query, id))
}

// ListAppointmentsByDoctor returns all appointments for a doctor.
func (s *Store) ListAppointmentsByDoctor(ctx context.Context, doctorID string) ([]*record.Appointment, error) {
	query := `
		SELECT id, patient_id, doctor_id, patient_name, date, time, status
		FROM appointments WHERE doctor_id = $1
		ORDER BY date DESC, time DESC
	`
	rows, err := s.pool.Query(ctx, query, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []*record.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

// IssuePrescription inserts the prescription and completes the referenced
// appointment in one transaction. The status update is conditional on the
// appointment still being Booked, so completion happens exactly once.
func (s *Store) IssuePrescription(ctx context.Context, p *record.Prescription, appointmentID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	meds, _ := json.Marshal(p.Medication)
	insert := `
		INSERT INTO prescriptions (id, patient_id, doctor_id, doctor_name, date, medication, notes, amount, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.Exec(ctx, insert,
		p.ID, p.PatientID, p.DoctorID, p.DoctorName, p.Date, meds, p.Notes, p.Amount, p.PaymentStatus,
	); err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	complete := `UPDATE appointments SET status = $2 WHERE id = $1 AND status = $3`
	tag, err := tx.Exec(ctx, complete, appointmentID, record.AppointmentCompleted, record.AppointmentBooked)
	if err != nil {
		return fmt.Errorf("complete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotBooked
	}

	now := time.Now().UTC()
	issued, _ := json.Marshal(record.PrescriptionIssuedEvent{
		PrescriptionID: p.ID,
		PatientID:      p.PatientID,
		DoctorID:       p.DoctorID,
		Amount:         p.Amount,
		IssuedAt:       now,
	})
	if err := outbox.WriteEntry(ctx, tx, &outbox.Entry{
		AggregateID:   p.ID,
		AggregateType: "Prescription",
		EventType:     string(record.EventPrescriptionIssued),
		Payload:       issued,
		Topic:         redpanda.TopicPrescriptions,
		Key:           p.ID,
	}); err != nil {
		return err
	}

	completed, _ := json.Marshal(record.AppointmentCompletedEvent{
		AppointmentID:  appointmentID,
		PrescriptionID: p.ID,
		DoctorID:       p.DoctorID,
		CompletedAt:    now,
	})
	if err := outbox.WriteEntry(ctx, tx, &outbox.Entry{
		AggregateID:   appointmentID,
		AggregateType: "Appointment",
		EventType:     string(record.EventAppointmentCompleted),
		Payload:       completed,
		Topic:         redpanda.TopicAppointments,
		Key:           appointmentID,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func scanPrescription(row pgx.Row) (*record.Prescription, error) {
	p := &record.Prescription{}
	var meds []byte
	err := row.Scan(&p.ID, &p.PatientID, &p.DoctorID, &p.DoctorName, &p.Date, &meds, &p.Notes, &p.Amount, &p.PaymentStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(meds, &p.Medication); err != nil {
		return nil, fmt.Errorf("decode medication: %w", err)
	}
	return p, nil
}

const prescriptionColumns = `id, patient_id, doctor_id, doctor_name, date, medication, notes, amount, payment_status`

// GetPrescription returns one prescription by ID.
func (s *Store) GetPrescription(ctx context.Context, id string) (*record.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1`
	return scanPrescription(s.pool.QueryRow(ctx, query, id))
}

func (s *Store) listPrescriptions(ctx context.Context, query string, args ...any) ([]*record.Prescription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*record.Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// ListPrescriptionsByPatient returns all prescriptions for a patient.
func (s *Store) ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]*record.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE patient_id = $1 ORDER BY date DESC`
	return s.listPrescriptions(ctx, query, patientID)
}

// ListPendingPrescriptionsByPatient returns the patient's unpaid prescriptions.
func (s *Store) ListPendingPrescriptionsByPatient(ctx context.Context, patientID string) ([]*record.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE patient_id = $1 AND payment_status = 'pending' ORDER BY date DESC`
	return s.listPrescriptions(ctx, query, patientID)
}

// ListPrescriptionsByDoctor returns all prescriptions a doctor has written.
func (s *Store) ListPrescriptionsByDoctor(ctx context.Context, doctorID string) ([]*record.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE doctor_id = $1 ORDER BY date DESC`
	return s.listPrescriptions(ctx, query, doctorID)
}

// RecordPayment inserts the payment and settles the prescription in one
// transaction. The pending -> completed transition is a compare-and-swap;
// a prescription that already settled returns ErrAlreadyPaid, which closes
// the duplicate-payment race between concurrent submissions.
func (s *Store) RecordPayment(ctx context.Context, pay *record.Payment, prescriptionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	settle := `UPDATE prescriptions SET payment_status = $2 WHERE id = $1 AND payment_status = $3`
	tag, err := tx.Exec(ctx, settle, prescriptionID, record.PaymentCompleted, record.PaymentPending)
	if err != nil {
		return fmt.Errorf("settle prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already settled.
		var status record.PaymentStatus
		err := tx.QueryRow(ctx, `SELECT payment_status FROM prescriptions WHERE id = $1`, prescriptionID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		return store.ErrAlreadyPaid
	}

	insert := `
		INSERT INTO payments (id, patient_id, patient_name, doctor_id, amount, payment_method, timestamp, date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.Exec(ctx, insert,
		pay.ID, pay.PatientID, pay.PatientName, pay.DoctorID, pay.Amount, pay.Method, pay.Timestamp, pay.Date, pay.Status,
	); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	payload, _ := json.Marshal(record.PaymentRecordedEvent{
		PaymentID:      pay.ID,
		PrescriptionID: prescriptionID,
		PatientID:      pay.PatientID,
		DoctorID:       pay.DoctorID,
		Amount:         pay.Amount,
		Method:         pay.Method,
		RecordedAt:     time.Now().UTC(),
	})
	if err := outbox.WriteEntry(ctx, tx, &outbox.Entry{
		AggregateID:   pay.ID,
		AggregateType: "Payment",
		EventType:     string(record.EventPaymentRecorded),
		Payload:       payload,
		Topic:         redpanda.TopicPayments,
		Key:           pay.DoctorID,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const paymentColumns = `id, patient_id, patient_name, doctor_id, amount, payment_method, timestamp, date, status`

func scanPayment(row pgx.Row) (*record.Payment, error) {
	p := &record.Payment{}
	err := row.Scan(&p.ID, &p.PatientID, &p.PatientName, &p.DoctorID, &p.Amount, &p.Method, &p.Timestamp, &p.Date, &p.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) listPayments(ctx context.Context, query string, args ...any) ([]*record.Payment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*record.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// ListPaymentsByDoctorAndDate returns one day's payments for a doctor.
func (s *Store) ListPaymentsByDoctorAndDate(ctx context.Context, doctorID, date string) ([]*record.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE doctor_id = $1 AND date = $2 ORDER BY timestamp`
	return s.listPayments(ctx, query, doctorID, date)
}

// ListPaymentsByDoctor returns all payments received by a doctor.
func (s *Store) ListPaymentsByDoctor(ctx context.Context, doctorID string) ([]*record.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE doctor_id = $1 ORDER BY timestamp DESC`
	return s.listPayments(ctx, query, doctorID)
}

// FindPaymentForPrescription locates the settled payment matching a
// prescription by patient, doctor, and date.
func (s *Store) FindPaymentForPrescription(ctx context.Context, p *record.Prescription) (*record.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE patient_id = $1 AND doctor_id = $2 AND date = $3 AND status = 'Completed'
		ORDER BY timestamp DESC
		LIMIT 1
	`
	return scanPayment(s.pool.QueryRow(ctx, query, p.PatientID, p.DoctorID, p.Date))
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

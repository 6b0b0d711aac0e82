package record

import "time"

// EventType identifies a domain event emitted through the outbox.
type EventType string

const (
	EventUserRegistered       EventType = "UserRegistered"
	EventAppointmentBooked    EventType = "AppointmentBooked"
	EventAppointmentCompleted EventType = "AppointmentCompleted"
	EventPrescriptionIssued   EventType = "PrescriptionIssued"
	EventPaymentRecorded      EventType = "PaymentRecorded"
)

// UserRegisteredEvent is emitted after OTP-verified registration persists.
type UserRegisteredEvent struct {
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PatientID    string    `json:"patient_id,omitempty"`
	DoctorID     string    `json:"doctor_id,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// AppointmentBookedEvent is emitted when a confirmed booking persists.
type AppointmentBookedEvent struct {
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	PatientName   string    `json:"patient_name"`
	DoctorID      string    `json:"doctor_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	BookedAt      time.Time `json:"booked_at"`
}

// AppointmentCompletedEvent is emitted when prescription issuance completes
// the referenced appointment.
type AppointmentCompletedEvent struct {
	AppointmentID  string    `json:"appointment_id"`
	PrescriptionID string    `json:"prescription_id"`
	DoctorID       string    `json:"doctor_id"`
	CompletedAt    time.Time `json:"completed_at"`
}

// PrescriptionIssuedEvent is emitted when a doctor writes a prescription.
type PrescriptionIssuedEvent struct {
	PrescriptionID string    `json:"prescription_id"`
	PatientID      string    `json:"patient_id"`
	DoctorID       string    `json:"doctor_id"`
	Amount         int       `json:"amount"`
	IssuedAt       time.Time `json:"issued_at"`
}

// PaymentRecordedEvent is emitted when a prescription fee settles.
type PaymentRecordedEvent struct {
	PaymentID      string    `json:"payment_id"`
	PrescriptionID string    `json:"prescription_id"`
	PatientID      string    `json:"patient_id"`
	DoctorID       string    `json:"doctor_id"`
	Amount         int       `json:"amount"`
	Method         string    `json:"payment_method"`
	RecordedAt     time.Time `json:"recorded_at"`
}

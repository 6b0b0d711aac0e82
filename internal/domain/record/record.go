// Package record defines the entities held by the record store: users,
// appointments, prescriptions, and payments.
package record

// Role identifies the kind of user account.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Valid reports whether the role is one of the two supported roles.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// AppointmentStatus represents the appointment lifecycle state.
type AppointmentStatus string

const (
	AppointmentBooked    AppointmentStatus = "Booked"
	AppointmentCompleted AppointmentStatus = "Completed"
)

// PaymentStatus represents a prescription's payment state.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// Fee bounds enforced when a doctor writes a prescription.
const (
	DefaultPrescriptionFee = 200
	MinPrescriptionFee     = 1
)

// Date and timestamp layouts used on the wire and in the store.
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05"
)

// ProfilePicChoices is the fixed set of selectable profile pictures.
var ProfilePicChoices = map[string]string{
	"default":      "https://placehold.co/128x128/42a5f5/ffffff?text=User",
	"avatar_1":     "https://i.imgur.com/8Q8pYvM.png",
	"avatar_2":     "https://i.imgur.com/v4XyYwT.png",
	"avatar_3":     "https://i.imgur.com/vB1h5tF.png",
	"medical_icon": "https://i.imgur.com/s6zB1pZ.png",
}

// DefaultProfilePic is the URL assigned to new accounts.
var DefaultProfilePic = ProfilePicChoices["default"]

// NotSpecified is the placeholder for optional patient profile fields.
const NotSpecified = "Not specified"

// User is an account record. Email is the primary key; the role is fixed at
// registration. Patient and doctor fields are populated per role.
type User struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`

	// Patient fields
	PatientID     string `json:"patient_id,omitempty"`
	Age           string `json:"age,omitempty"`
	Gender        string `json:"gender,omitempty"`
	ProfilePicURL string `json:"profile_pic_url,omitempty"`

	// Doctor fields
	DoctorID  string `json:"doctor_id,omitempty"`
	Specialty string `json:"specialty,omitempty"`
	Available bool   `json:"available,omitempty"`
}

// Appointment is a visit booked by a patient with a doctor. It is persisted
// only after the patient confirms the booking OTP, and transitions
// Booked -> Completed exactly once, when the doctor issues a prescription.
type Appointment struct {
	ID          string            `json:"id"`
	PatientID   string            `json:"patient_id"`
	DoctorID    string            `json:"doctor_id"`
	PatientName string            `json:"patient_name"`
	Date        string            `json:"date"`
	Time        string            `json:"time"`
	Status      AppointmentStatus `json:"status"`
}

// Prescription is written by a doctor against a booked appointment. Its
// payment status transitions pending -> completed exactly once.
type Prescription struct {
	ID            string        `json:"id"`
	PatientID     string        `json:"patient_id"`
	DoctorID      string        `json:"doctor_id"`
	DoctorName    string        `json:"doctor_name"`
	Date          string        `json:"date"`
	Medication    []string      `json:"medication"`
	Notes         string        `json:"notes"`
	Amount        int           `json:"amount"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}

// Payment records a settled prescription fee. Immutable once written.
type Payment struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
	DoctorID    string `json:"doctor_id"`
	Amount      int    `json:"amount"`
	Method      string `json:"payment_method"`
	Timestamp   string `json:"timestamp"`
	Date        string `json:"date"`
	Status      string `json:"status"`
}

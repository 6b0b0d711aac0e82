// Package session wraps gorilla/sessions for the care API: the signed-in
// identity and the short-lived pending registration/booking payloads held
// between the start and confirm steps of a verification flow.
package session

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/saihealth/go-care/internal/domain/record"
)

const sessionName = "care_session"

// Session value keys. Pending payloads are stored as JSON strings so no gob
// registration is needed.
const (
	keyUserEmail = "user_email"
	keyUserRole  = "user_role"
	keyUserName  = "user_name"

	keyPendingRegistration = "pending_registration"
	keyPendingBooking      = "pending_booking"
)

// Manager issues and reads session cookies.
type Manager struct {
	store *sessions.CookieStore
}

// NewManager creates a session manager. The secret signs session cookies.
func NewManager(secret string, secure bool) *Manager {
	cs := sessions.NewCookieStore([]byte(secret))
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   24 * 60 * 60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Manager{store: cs}
}

// Identity is the signed-in user attached to a session.
type Identity struct {
	Email string
	Role  record.Role
	Name  string
}

// SignIn writes the identity into the session and clears pending state.
func (m *Manager) SignIn(w http.ResponseWriter, r *http.Request, u *record.User) error {
	sess, _ := m.store.Get(r, sessionName)
	sess.Values[keyUserEmail] = u.Email
	sess.Values[keyUserRole] = string(u.Role)
	sess.Values[keyUserName] = u.Name
	delete(sess.Values, keyPendingRegistration)
	delete(sess.Values, keyPendingBooking)
	return sess.Save(r, w)
}

// SignOut clears the session.
func (m *Manager) SignOut(w http.ResponseWriter, r *http.Request) error {
	sess, _ := m.store.Get(r, sessionName)
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

// CurrentIdentity returns the signed-in identity, or nil if anonymous.
func (m *Manager) CurrentIdentity(r *http.Request) *Identity {
	sess, err := m.store.Get(r, sessionName)
	if err != nil {
		return nil
	}

	email, ok := sess.Values[keyUserEmail].(string)
	if !ok || email == "" {
		return nil
	}
	role, _ := sess.Values[keyUserRole].(string)
	name, _ := sess.Values[keyUserName].(string)

	return &Identity{Email: email, Role: record.Role(role), Name: name}
}

// SetPendingRegistration stores a pending registration in the session.
func (m *Manager) SetPendingRegistration(w http.ResponseWriter, r *http.Request, pending interface{}) error {
	return m.setPending(w, r, keyPendingRegistration, pending)
}

// PendingRegistration loads the pending registration into dst. Returns false
// when none is stored.
func (m *Manager) PendingRegistration(r *http.Request, dst interface{}) (bool, error) {
	return m.getPending(r, keyPendingRegistration, dst)
}

// ClearPendingRegistration removes the pending registration.
func (m *Manager) ClearPendingRegistration(w http.ResponseWriter, r *http.Request) error {
	return m.clearPending(w, r, keyPendingRegistration)
}

// SetPendingBooking stores a pending booking in the session.
func (m *Manager) SetPendingBooking(w http.ResponseWriter, r *http.Request, pending interface{}) error {
	return m.setPending(w, r, keyPendingBooking, pending)
}

// PendingBooking loads the pending booking into dst. Returns false when none
// is stored.
func (m *Manager) PendingBooking(r *http.Request, dst interface{}) (bool, error) {
	return m.getPending(r, keyPendingBooking, dst)
}

// ClearPendingBooking removes the pending booking.
func (m *Manager) ClearPendingBooking(w http.ResponseWriter, r *http.Request) error {
	return m.clearPending(w, r, keyPendingBooking)
}

func (m *Manager) setPending(w http.ResponseWriter, r *http.Request, key string, pending interface{}) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending state: %w", err)
	}

	sess, _ := m.store.Get(r, sessionName)
	sess.Values[key] = string(data)
	return sess.Save(r, w)
}

func (m *Manager) getPending(r *http.Request, key string, dst interface{}) (bool, error) {
	sess, err := m.store.Get(r, sessionName)
	if err != nil {
		return false, nil
	}

	raw, ok := sess.Values[key].(string)
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("unmarshal pending state: %w", err)
	}
	return true, nil
}

func (m *Manager) clearPending(w http.ResponseWriter, r *http.Request, key string) error {
	sess, _ := m.store.Get(r, sessionName)
	delete(sess.Values, key)
	return sess.Save(r, w)
}

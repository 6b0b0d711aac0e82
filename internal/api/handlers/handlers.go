// Package handlers provides HTTP handlers for the care API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/saihealth/go-care/internal/api/middleware"
	"github.com/saihealth/go-care/internal/domain/record"
	"github.com/saihealth/go-care/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// currentUser loads the full user record for the session identity placed in
// the context by middleware.RequireRole.
func currentUser(ctx context.Context, st store.Store) (*record.User, error) {
	ident := middleware.GetIdentity(ctx)
	if ident == nil {
		return nil, store.ErrNotFound
	}
	return st.GetUser(ctx, ident.Email)
}

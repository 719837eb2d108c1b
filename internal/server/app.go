package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ecommerce/backend/pkg/domain"
	"github.com/ecommerce/backend/pkg/security"
)

// StatusData is the payload of GET /api/status.
type StatusData struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Profile       string `json:"profile"`
	Subject       string `json:"subject"`
	Authenticated bool   `json:"authenticated"`
	CSRFToken     string `json:"csrf_token,omitempty"`
}

// NewAppHandler returns the application routes served behind the chain.
// profile reports the active security profile.
func NewAppHandler(version string, profile func() string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		p := security.PrincipalFromContext(r.Context())
		writeJSON(w, logger, http.StatusOK, domain.APIResponse{
			Success: true,
			Data: StatusData{
				Status:        "ok",
				Version:       version,
				Profile:       profile(),
				Subject:       p.Subject,
				Authenticated: p.Authenticated,
				CSRFToken:     security.CSRFToken(r.Context()),
			},
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusNotFound, domain.APIResponse{
			Success: false,
			Error:   domain.CodeNotFound,
			Message: "no route for " + r.Method + " " + r.URL.Path,
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

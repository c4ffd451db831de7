package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	apperrors "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/ratelimit"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message,omitempty"`
	Data       any               `json:"data,omitempty"`
	Errors     []user.FieldError `json:"errors,omitempty"`
	RetryAfter int               `json:"retryAfter,omitempty"`
	// Error carries panic details outside production.
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

// writeError maps err onto a status and public message. Errors without a
// domain code are logged and answered with fallback, as are unreachable
// tenants.
func writeError(w http.ResponseWriter, err error, fallback string) {
	var fields user.ValidationErrors
	if errors.As(err, &fields) {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "Validation failed", Errors: fields})
		return
	}
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("%s: %v", fallback, err)
	}
	if code == apperrors.CodeTenantUnavailable {
		writeMessage(w, status, fallback)
		return
	}
	writeMessage(w, status, apperrors.PublicMessage(err, fallback))
}

// denyRateLimited answers requests rejected by a limiter.
func denyRateLimited(w http.ResponseWriter, _ *http.Request, res *ratelimit.Reservation, message string) {
	writeJSON(w, http.StatusTooManyRequests, envelope{Message: message, RetryAfter: res.RetryAfterSeconds()})
}

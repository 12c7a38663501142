package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ecolens-api/internal/domain"
	"github.com/ecolens-api/internal/infrastructure/logging"
	"go.uber.org/zap"
)

const maxAuthBody = 1 << 20

// MessageEnvelope is the generic response wrapper. Reason is a machine-readable
// code the client can branch on.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// SafeUser is the public view of a user.
type SafeUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// UserEnvelope wraps the verify response.
type UserEnvelope struct {
	Message string    `json:"message,omitempty"`
	User    *SafeUser `json:"user"`
}

// IdentityEnvelope is the body of /api/user/me when a session exists.
type IdentityEnvelope struct {
	ID string `json:"id"`
}

type PredictionsEnvelope struct {
	Predictions []domain.Prediction `json:"predictions"`
}

func toSafeUser(u *domain.User) *SafeUser {
	if u == nil {
		return nil
	}
	role := u.Role
	if role == "" {
		role = domain.RoleUser
	}
	return &SafeUser{ID: u.UserID, Email: u.Email, Role: role}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

var statusBySentinel = []struct {
	err    error
	status int
}{
	{domain.ErrBadRequest, http.StatusBadRequest},
	{domain.ErrUnauthorized, http.StatusUnauthorized},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrConflict, http.StatusConflict},
	{domain.ErrGone, http.StatusGone},
	{domain.ErrTooManyRequests, http.StatusTooManyRequests},
	{domain.ErrUpstream, http.StatusInternalServerError},
}

// writeDomainError maps err to a status code. 5xx bodies never carry internal
// error text unless the service attached a client-facing ReasonError message.
func writeDomainError(w http.ResponseWriter, logger *logging.Service, err error) {
	status := http.StatusInternalServerError
	var sentinel error
	for _, m := range statusBySentinel {
		if errors.Is(err, m.err) {
			status, sentinel = m.status, m.err
			break
		}
	}

	env := MessageEnvelope{}
	var re *domain.ReasonError
	switch {
	case errors.As(err, &re):
		env.Error = re.Error()
		env.Reason = re.Reason
	case status < 500 && sentinel != nil:
		env.Error = strings.TrimSuffix(err.Error(), ": "+sentinel.Error())
	default:
		env.Error = "Internal server error"
	}
	if status >= 500 {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, env)
}

// errFieldType reports a well-formed body whose field has the wrong JSON type.
var errFieldType = errors.New("Invalid JSON")

// decodeJSON reads a JSON body of at most limit bytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, limit int64) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return errFieldType
		}
		return errors.New("Invalid JSON")
	}
	return nil
}

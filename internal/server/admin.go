package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/gostudio/internal/errors"
)

// adminTokenEnv gates the admin endpoint. Unset means the endpoint is
// not registered at all.
const adminTokenEnv = "GOSTUDIO_ADMIN_TOKEN"

// registerAdminEndpoint mounts POST /admin/signal when an admin token is
// configured. Signals flip the drain state the readiness checker reads,
// letting an operator pull an instance out of rotation without killing
// in-flight jobs.
func (s *Server) registerAdminEndpoint(r chi.Router) {
	token := os.Getenv(adminTokenEnv)
	if token == "" {
		return
	}
	r.Post("/admin/signal", s.adminSignalHandler(token))
}

func (s *Server) adminSignalHandler(token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(auth, prefix)), []byte(token)) != 1 {
			apperrors.RespondWithError(w, r, &apperrors.AppError{
				Code:    apperrors.CodeUnauthorized,
				Message: "invalid admin token",
				Status:  http.StatusUnauthorized,
			})
			return
		}

		var body struct {
			Signal string `json:"signal"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			apperrors.RespondWithError(w, r, apperrors.NewValidationError("invalid request body", nil))
			return
		}

		switch body.Signal {
		case "drain":
			s.setDraining(true)
		case "resume":
			s.setDraining(false)
		default:
			apperrors.RespondWithError(w, r, apperrors.NewValidationError("unknown signal", map[string]interface{}{
				"signal": body.Signal,
			}))
			return
		}

		s.logger.Info("admin signal applied", zap.String("signal", body.Signal))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"signal": body.Signal,
		})
	}
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/DCabral11/cj-digital-bp/internal/apperr"
	"github.com/DCabral11/cj-digital-bp/internal/controller"
	"github.com/DCabral11/cj-digital-bp/pkg/types"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type submitRequest struct {
	StationID string `json:"station_id"`
	PIN       string `json:"pin"`
	Points    *int   `json:"points"`
}

func Login(c *controller.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "bad json"})
			return
		}
		v, err := c.Login(r.Context(), req.Username, req.Password, r.UserAgent())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func Logout(c *controller.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := c.Logout(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func GetView(c *controller.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := c.View(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func Submit(c *controller.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "bad json"})
			return
		}
		if req.Points == nil {
			writeError(w, logger, apperr.ErrInvalidPoints)
			return
		}
		res, err := c.Submit(r.Context(), req.StationID, req.PIN, *req.Points)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, types.SubmitResult{Points: res.State.Points, Message: res.Message()})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// statusFor maps the error taxonomy onto HTTP. Session problems are 401,
// anything the operator must fix or wait out is 503.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidCredentials), errors.Is(err, apperr.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrStillLoading):
		return http.StatusServiceUnavailable
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, types.ErrorResponse{Error: apperr.Message(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"mailprobe/internal/config"
	"mailprobe/internal/models"
	"mailprobe/internal/validator"
)

type verifyRequest struct {
	Email string `json:"email"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// verifyHandler runs a single address through the pipeline and maps the
// outcome to the documented status codes: 200 success, 400 bad input,
// 429 admission rejected, 504 timeout, 500 otherwise.
func verifyHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing or invalid 'email'"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), cfg.PipelineTimeout)
		defer cancel()

		result, err := registry.Verify(ctx, req.Email)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrMissingEmail):
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			case errors.Is(err, models.ErrTooManyVerifications):
				w.Header().Set("Retry-After", strconv.Itoa(int(cfg.GrayRetryAfter.Seconds())))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
			default:
				logrus.WithError(err).WithField("email", req.Email).Error("verify failed")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			}
			return
		}

		status := http.StatusOK
		switch {
		case result.Status == models.StatusTimeout:
			status = http.StatusGatewayTimeout
		case result.Reason == validator.ReasonInvalidSyntax:
			// Malformed input is a caller error; the scored result still
			// goes out as the body.
			status = http.StatusBadRequest
		}
		writeJSON(w, status, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("encoding response failed")
	}
}

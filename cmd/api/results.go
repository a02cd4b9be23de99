package main

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"mailprobe/internal/models"
	"mailprobe/internal/store"
)

type resultRow struct {
	Email     string `json:"email"`
	Status    string `json:"status"`
	Score     int    `json:"score"`
	Reason    string `json:"reason,omitempty"`
	CheckedAt int64  `json:"checkedAt"`
	TTL       int64  `json:"ttl"`
	Domain    string `json:"domain"`
}

// resultsHandler serves a job's rows on GET and handles per-address
// deletion requests on DELETE (removes persisted rows and purges the
// in-memory result cache).
func resultsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		listResults(w, r)
	case http.MethodDelete:
		deleteResult(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func listResults(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("id")
	if jobID == "" {
		http.Error(w, "Missing 'id' parameter", http.StatusBadRequest)
		return
	}

	query := `
		SELECT email, status, score, COALESCE(reason, ''), checked_at, ttl, domain
		FROM results
		WHERE job_id = $1
		ORDER BY email ASC
	`
	rows, err := store.DB.Query(r.Context(), query, jobID)
	if err != nil {
		http.Error(w, "Failed to fetch results", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	results := []resultRow{}
	for rows.Next() {
		var row resultRow
		if err := rows.Scan(&row.Email, &row.Status, &row.Score, &row.Reason, &row.CheckedAt, &row.TTL, &row.Domain); err != nil {
			continue
		}
		results = append(results, row)
	}

	writeJSON(w, http.StatusOK, results)
}

func deleteResult(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if email == "" {
		http.Error(w, "Missing 'email' parameter", http.StatusBadRequest)
		return
	}

	removed, err := store.DeleteResult(r.Context(), email)
	if err != nil {
		logrus.WithError(err).WithField("email", email).Error("deletion failed")
		http.Error(w, "Failed to delete result", http.StatusInternalServerError)
		return
	}
	registry.Forget(email)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"email":   email,
		"removed": removed,
	})
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "mailprobe",
		"version": "1.0.0",
		"statuses": []models.Status{
			models.StatusDeliverable,
			models.StatusRisky,
			models.StatusUnknown,
			models.StatusUndeliverable,
			models.StatusTimeout,
		},
	})
}

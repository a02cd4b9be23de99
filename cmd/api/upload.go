package main

import (
	"encoding/csv"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailprobe/internal/queue"
	"mailprobe/internal/store"
)

type uploadResponse struct {
	JobID     string `json:"job_id"`
	TotalRows int    `json:"total_rows"`
	Message   string `json:"message"`
}

// uploadHandler accepts a CSV of addresses (first column), creates a
// job, and queues one task per address for the workers.
func uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "File too large or malformed", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing 'file' parameter in form data", http.StatusBadRequest)
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	var emails []string

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, "Invalid CSV format", http.StatusBadRequest)
			return
		}
		if len(record) > 0 && record[0] != "" {
			emails = append(emails, record[0])
		}
	}

	if len(emails) == 0 {
		http.Error(w, "CSV is empty", http.StatusBadRequest)
		return
	}

	jobID := uuid.New().String()
	ctx := r.Context()

	query := `INSERT INTO jobs (id, status, total_count, created_at) VALUES ($1, 'pending', $2, $3)`
	if _, err := store.DB.Exec(ctx, query, jobID, len(emails), time.Now()); err != nil {
		logrus.WithError(err).Error("creating job failed")
		http.Error(w, "Failed to create job", http.StatusInternalServerError)
		return
	}

	queued := 0
	for _, email := range emails {
		if err := queue.Enqueue(ctx, queue.Task{JobID: jobID, Email: email}); err != nil {
			logrus.WithError(err).WithField("email", email).Error("enqueue failed")
			continue
		}
		queued++
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		JobID:     jobID,
		TotalRows: queued,
		Message:   "Job created successfully. Processing started.",
	})
}

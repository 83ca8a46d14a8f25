package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/proctor-backend/internal/model"
)

// ExportService renders the checkpoint audit trail of a session.
type ExportService struct {
	sessions *SessionService
	logs     CheckpointLogStore
	maxRows  int
}

// NewExportService creates a new ExportService.
func NewExportService(sessions *SessionService, logs CheckpointLogStore, maxRows int) *ExportService {
	return &ExportService{sessions: sessions, logs: logs, maxRows: maxRows}
}

// CheckpointLog returns up to limit log rows of a session, newest first.
// A non-positive limit or one above the configured cap uses the cap.
func (s *ExportService) CheckpointLog(ctx context.Context, sessionID uuid.UUID, teacherID, limit int) ([]model.CheckpointLog, error) {
	if _, err := s.sessions.Get(ctx, sessionID, teacherID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.maxRows {
		limit = s.maxRows
	}

	logs, err := s.logs.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoint logs: %w", err)
	}
	if logs == nil {
		logs = []model.CheckpointLog{}
	}
	return logs, nil
}

var csvHeader = []string{"id", "attempt_id", "participant_id", "at", "ok", "due_at", "submitted"}

// WriteCSV renders log rows as delimited text with a header line.
func WriteCSV(w io.Writer, logs []model.CheckpointLog) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, l := range logs {
		dueAt := ""
		if l.DueAt != nil {
			dueAt = l.DueAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			strconv.FormatInt(l.ID, 10),
			l.AttemptID.String(),
			strconv.Itoa(l.ParticipantID),
			l.At.UTC().Format(time.RFC3339),
			strconv.FormatBool(l.OK),
			dueAt,
			l.Submitted,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/authmatrix/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskMatrixWarmup rebuilds the cached authorization matrix snapshot.
	TaskMatrixWarmup = "matrix:warmup"
	// MatrixWarmupCron schedules the periodic rebuild.
	MatrixWarmupCron = "@every 15m"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// MatrixWarmupPayload records why a rebuild was requested.
type MatrixWarmupPayload struct {
	Reason string `json:"reason"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	if payload.To == "" {
		return nil, errors.New("jobs: email recipient required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.MaxRetry(5)), nil
}

// NewMatrixWarmupTask constructs a warmup task.
func NewMatrixWarmupTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(MatrixWarmupPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMatrixWarmup, data, asynq.MaxRetry(1)), nil
}

// EmailJob delivers queued emails.
type EmailJob struct {
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskTypeSendEmail tasks.
func (j *EmailJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode email payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskTypeSendEmail)
	defer func() { err = tracker.End(err) }()

	if err := j.Mailer.Send(ctx, payload); err != nil {
		logger(j.Logger).Warn("send email", slog.String("to", payload.To), slog.Any("error", err))
		return err
	}
	logger(j.Logger).Info("email sent", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	return nil
}

// SnapshotWarmer rebuilds the cached matrix snapshot.
type SnapshotWarmer interface {
	Warm(ctx context.Context) error
}

// MatrixWarmupJob refreshes the matrix cache off the request path.
type MatrixWarmupJob struct {
	Warmer  SnapshotWarmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskMatrixWarmup tasks.
func (j *MatrixWarmupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Warmer == nil {
		return errors.New("matrix warmup: handler not configured")
	}
	var payload MatrixWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode warmup payload: %w", asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskMatrixWarmup)
	defer func() { err = tracker.End(err) }()

	if err := j.Warmer.Warm(ctx); err != nil {
		logger(j.Logger).Error("matrix warmup", slog.String("reason", payload.Reason), slog.Any("error", err))
		return err
	}
	logger(j.Logger).Debug("matrix warmed", slog.String("reason", payload.Reason))
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

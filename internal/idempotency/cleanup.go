package idempotency

import (
	"log/slog"
	"time"
)

// DefaultExpiry bounds how long a view key suppresses a retry. Clients do
// not retry a view submission after a day.
const DefaultExpiry = 24 * time.Hour

// SweepReport is the job detail recorded for a cleanup run.
type SweepReport struct {
	Deleted   int64         `json:"deleted"`
	OlderThan time.Duration `json:"older_than_ns"`
}

// Sweep drops keys older than expiry from repo.
func Sweep(repo Repository, expiry time.Duration, logger *slog.Logger) (*SweepReport, error) {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	deleted, err := repo.DeleteOlderThan(expiry)
	if err != nil {
		logger.Error("idempotency sweep failed", "error", err)
		return nil, err
	}
	if deleted > 0 {
		logger.Info("idempotency keys expired", "deleted", deleted, "older_than", expiry)
	}
	return &SweepReport{Deleted: deleted, OlderThan: expiry}, nil
}

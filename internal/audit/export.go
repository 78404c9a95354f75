package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports logs as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports logs as JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ExportOptions configures audit log export parameters.
type ExportOptions struct {
	Format  ExportFormat
	From    time.Time
	To      time.Time
	ActorID string // optional
	Limit   int    // 0 = no limit
}

// ExportLogs exports audit logs matching the given options.
func ExportLogs(repo Repository, opts ExportOptions) ([]byte, error) {
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}

	var (
		logs []*AuditLog
		err  error
	)
	if opts.ActorID != "" {
		logs, err = repo.QueryByActor(opts.ActorID, 0)
	} else {
		logs, err = repo.All()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}

	if !opts.From.IsZero() || !opts.To.IsZero() {
		logs = filterByTimeRange(logs, opts.From, opts.To)
	}
	// Limit after time filtering.
	if opts.Limit > 0 && len(logs) > opts.Limit {
		logs = logs[:opts.Limit]
	}

	if opts.Format == ExportFormatCSV {
		return exportToCSV(logs)
	}
	return exportToJSON(logs)
}

func filterByTimeRange(logs []*AuditLog, from, to time.Time) []*AuditLog {
	var filtered []*AuditLog
	for _, log := range logs {
		if !from.IsZero() && log.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && log.CreatedAt.After(to) {
			continue
		}
		filtered = append(filtered, log)
	}
	return filtered
}

func exportToCSV(logs []*AuditLog) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"ID", "Timestamp (UTC)", "Actor", "Entity Type", "Entity ID",
		"Action", "Outcome", "Detail", "Request ID", "Previous Hash", "Hash",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, log := range logs {
		row := []string{
			log.ID,
			log.CreatedAt.Format(time.RFC3339),
			log.ActorID,
			log.EntityType,
			log.EntityID,
			log.Action,
			log.Outcome,
			log.Detail,
			log.RequestID,
			log.PreviousHash,
			log.Hash,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func exportToJSON(logs []*AuditLog) ([]byte, error) {
	type exportLog struct {
		ID           string `json:"id"`
		Timestamp    string `json:"timestamp"`
		ActorID      string `json:"actor_id"`
		EntityType   string `json:"entity_type"`
		EntityID     string `json:"entity_id"`
		Action       string `json:"action"`
		Outcome      string `json:"outcome"`
		Detail       string `json:"detail,omitempty"`
		RequestID    string `json:"request_id,omitempty"`
		PreviousHash string `json:"previous_hash,omitempty"`
		Hash         string `json:"hash"`
	}

	out := make([]exportLog, len(logs))
	for i, log := range logs {
		out[i] = exportLog{
			ID:           log.ID,
			Timestamp:    log.CreatedAt.Format(time.RFC3339),
			ActorID:      log.ActorID,
			EntityType:   log.EntityType,
			EntityID:     log.EntityID,
			Action:       log.Action,
			Outcome:      log.Outcome,
			Detail:       log.Detail,
			RequestID:    log.RequestID,
			PreviousHash: log.PreviousHash,
			Hash:         log.Hash,
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

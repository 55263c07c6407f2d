package repo

import (
	"context"
	"encoding/json"
	"strings"
)

// Event is one row of the audit log.
type Event struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts"`
	Type          string         `json:"type"`
	EntityKind    string         `json:"entity_kind"`
	EntityID      *string        `json:"entity_id,omitempty"`
	ProjectID     *string        `json:"project_id,omitempty"`
	CorrelationID *string        `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload"`
}

// LatestEvents returns the newest events first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	var clauses []string
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	q := `SELECT id,ts,type,entity_kind,entity_id,project_id,correlation_id,payload_json FROM events`
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		var payload string
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.EntityKind, &ev.EntityID, &ev.ProjectID, &ev.CorrelationID, &payload); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(payload), &ev.Payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ABOUTME: Audit log persistence, append-only records of mutating operations
// ABOUTME: Events are written inside the same transaction as the mutation they record

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// appendEvents inserts audit events within an existing transaction.
func appendEvents(ctx context.Context, tx *sql.Tx, events []*AuditEvent) error {
	for _, e := range events {
		var detailsJSON any
		if e.Details != nil {
			data, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("marshaling audit details: %w", err)
			}
			detailsJSON = string(data)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_log (event_id, event_type, actor_handle, target_handle, details_json, ts)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			e.ID,
			string(e.Type),
			e.Actor,
			nullString(e.Target),
			detailsJSON,
			e.Timestamp.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("inserting audit event: %w", err)
		}
	}
	return nil
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (*AuditEvent, error) {
	var e AuditEvent
	var eventType, ts string
	var target, detailsJSON sql.NullString

	if err := scanner.Scan(&e.ID, &eventType, &e.Actor, &target, &detailsJSON, &ts); err != nil {
		return nil, err
	}

	e.Type = EventType(eventType)
	if target.Valid {
		e.Target = target.String
	}
	if detailsJSON.Valid {
		if err := json.Unmarshal([]byte(detailsJSON.String), &e.Details); err != nil {
			return nil, fmt.Errorf("unmarshaling audit details: %w", err)
		}
	}

	var err error
	e.Timestamp, err = time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil, fmt.Errorf("parsing audit timestamp: %w", err)
	}
	return &e, nil
}

// ListEvents returns audit events matching the filter, newest first.
// Ordering is by event_id descending: event IDs are monotonic ULIDs, so this
// is exact reverse insertion order even for events sharing a timestamp.
func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]*AuditEvent, error) {
	limit := normalizeLimit(f.Limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, event_type, actor_handle, target_handle, details_json, ts
		FROM audit_log
		WHERE (? = '' OR actor_handle = ?)
		  AND (? = '' OR target_handle = ?)
		  AND (? = '' OR event_type = ?)
		ORDER BY event_id DESC
		LIMIT ?
	`,
		f.Actor, f.Actor,
		f.Target, f.Target,
		string(f.Type), string(f.Type),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return events, nil
}

// ABOUTME: Address book entry persistence with optimistic locking
// ABOUTME: Version compare-and-set happens in a single UPDATE so the check and write cannot race

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const entryColumns = `handle, display_name, description, tags, is_active, version, created_at, updated_at, updated_by`

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*AddressBookEntry, error) {
	var e AddressBookEntry
	var displayName, description sql.NullString
	var tags, createdAt, updatedAt string
	var active int

	if err := scanner.Scan(&e.Handle, &displayName, &description, &tags, &active, &e.Version, &createdAt, &updatedAt, &e.UpdatedBy); err != nil {
		return nil, err
	}

	if displayName.Valid {
		e.DisplayName = displayName.String
	}
	if description.Valid {
		e.Description = description.String
	}
	e.Active = active != 0

	var err error
	e.Tags, err = unmarshalStrings(tags)
	if err != nil {
		return nil, err
	}
	e.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateEntry inserts a new address book entry with the audit events in one
// transaction. Returns ErrDuplicateHandle if the handle is already present,
// whether the existing entry is active or not.
func (s *SQLiteStore) CreateEntry(ctx context.Context, entry *AddressBookEntry, events []*AuditEvent) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		tags, err := marshalStrings(entry.Tags)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO address_book (handle, display_name, description, tags, is_active, version, created_at, updated_at, updated_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			entry.Handle,
			nullString(entry.DisplayName),
			nullString(entry.Description),
			tags,
			boolToInt(entry.Active),
			entry.Version,
			entry.CreatedAt.UTC().Format(time.RFC3339),
			entry.UpdatedAt.UTC().Format(time.RFC3339),
			entry.UpdatedBy,
		)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrDuplicateHandle
			}
			return fmt.Errorf("inserting address book entry: %w", err)
		}

		if err := appendEvents(ctx, tx, events); err != nil {
			return err
		}

		s.logger.Debug("created address book entry", "handle", entry.Handle)
		return nil
	})
}

// GetEntry retrieves an address book entry by handle.
// Returns ErrNotFound if no entry exists.
func (s *SQLiteStore) GetEntry(ctx context.Context, handle string) (*AddressBookEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM address_book WHERE handle = ?`, handle)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying address book entry: %w", err)
	}
	return entry, nil
}

// ListEntries returns entries matching the filter, ordered by handle.
// Tag intersection is evaluated on the decoded payload because tags live in
// a JSON text column.
func (s *SQLiteStore) ListEntries(ctx context.Context, f EntryFilter) ([]*AddressBookEntry, error) {
	var conds []string
	var args []any

	if f.Query != "" {
		pattern := "%" + escapeLike(strings.ToLower(f.Query)) + "%"
		conds = append(conds, `(LOWER(handle) LIKE ? ESCAPE '\' OR LOWER(COALESCE(display_name, '')) LIKE ? ESCAPE '\' OR LOWER(COALESCE(description, '')) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	if f.ActiveOnly {
		conds = append(conds, "is_active = 1")
	}

	query := `SELECT ` + entryColumns + ` FROM address_book`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY handle ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying address book: %w", err)
	}
	defer rows.Close()

	var entries []*AddressBookEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning address book row: %w", err)
		}
		if len(f.Tags) > 0 && !hasAnyTag(entry.Tags, f.Tags) {
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating address book rows: %w", err)
	}
	return entries, nil
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// UpdateEntry applies the given entry state iff the stored version equals
// expectedVersion, in a single UPDATE statement. The caller supplies the
// already-incremented entry (Version = expectedVersion + 1). Returns
// ErrVersionConflict when the stored version moved, ErrNotFound when the
// handle is absent.
func (s *SQLiteStore) UpdateEntry(ctx context.Context, entry *AddressBookEntry, expectedVersion int64, events []*AuditEvent) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		tags, err := marshalStrings(entry.Tags)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE address_book
			SET display_name = ?, description = ?, tags = ?, is_active = ?,
			    version = ?, updated_at = ?, updated_by = ?
			WHERE handle = ? AND version = ?
		`,
			nullString(entry.DisplayName),
			nullString(entry.Description),
			tags,
			boolToInt(entry.Active),
			entry.Version,
			entry.UpdatedAt.UTC().Format(time.RFC3339),
			entry.UpdatedBy,
			entry.Handle,
			expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("updating address book entry: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if rows == 0 {
			// Distinguish a missing handle from a lost version race.
			var stored int64
			err := tx.QueryRowContext(ctx,
				`SELECT version FROM address_book WHERE handle = ?`, entry.Handle,
			).Scan(&stored)
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("querying entry version: %w", err)
			}
			return ErrVersionConflict
		}

		if err := appendEvents(ctx, tx, events); err != nil {
			return err
		}

		s.logger.Debug("updated address book entry",
			"handle", entry.Handle,
			"version", entry.Version,
			"updated_by", entry.UpdatedBy,
		)
		return nil
	})
}

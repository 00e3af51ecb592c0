package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/discovery"
)

// InventoryEntry is one persisted data file of an endpoint's inventory.
type InventoryEntry struct {
	Endpoint     string    `json:"endpoint"`
	FileNumber   int       `json:"file_number"`
	FileType     string    `json:"file_type"`
	ElementCount int       `json:"element_count"`
	ScannedAt    time.Time `json:"scanned_at"`
}

// InventoryStore reads and writes the inventories table. Each endpoint
// holds exactly one inventory: the result of its latest completed scan.
type InventoryStore struct {
	db *sql.DB
}

// NewInventoryStore creates an inventory repository.
func NewInventoryStore(db *sql.DB) *InventoryStore {
	return &InventoryStore{db: db}
}

// Replace swaps an endpoint's inventory for the given scan result in one
// transaction. Whole-inventory replacement, not per-file upsert: a file
// that vanished from the controller must vanish from the store too.
func (s *InventoryStore) Replace(ctx context.Context, endpoint string, entries []discovery.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting inventory transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM inventories WHERE endpoint = ?", endpoint); err != nil {
		return fmt.Errorf("clearing inventory for %q: %w", endpoint, err)
	}

	scannedAt := time.Now().UTC().Format(time.RFC3339)
	for _, entry := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO inventories (endpoint, file_number, file_type, element_count, scanned_at)
			 VALUES (?, ?, ?, ?, ?)`,
			endpoint, entry.FileNumber, string(entry.Type), entry.ElementCount, scannedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting inventory file %s%d: %w", entry.Type, entry.FileNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing inventory: %w", err)
	}
	return nil
}

// Get returns an endpoint's persisted inventory in file-number order.
// An endpoint that has never been scanned yields an empty slice, not an
// error; "no inventory yet" is a normal state.
func (s *InventoryStore) Get(ctx context.Context, endpoint string) ([]InventoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint, file_number, file_type, element_count, scanned_at
		 FROM inventories WHERE endpoint = ? ORDER BY file_number`,
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("querying inventory: %w", err)
	}
	defer rows.Close()

	entries := []InventoryEntry{}
	for rows.Next() {
		var entry InventoryEntry
		var scannedAt string
		if err := rows.Scan(&entry.Endpoint, &entry.FileNumber, &entry.FileType,
			&entry.ElementCount, &scannedAt); err != nil {
			return nil, fmt.Errorf("scanning inventory entry: %w", err)
		}
		stamp, err := time.Parse(time.RFC3339, scannedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing inventory timestamp %q: %w", scannedAt, err)
		}
		entry.ScannedAt = stamp
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating inventory: %w", err)
	}
	return entries, nil
}

// GetEntry returns one persisted file of an endpoint's inventory as a
// discovery entry, for on-demand element expansion.
func (s *InventoryStore) GetEntry(ctx context.Context, endpoint string, fileNumber int) (discovery.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT file_number, file_type, element_count
		 FROM inventories WHERE endpoint = ? AND file_number = ?`,
		endpoint, fileNumber,
	)

	var entry discovery.Entry
	var fileType string
	if err := row.Scan(&entry.FileNumber, &fileType, &entry.ElementCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return discovery.Entry{}, fmt.Errorf("%w: file %d for %q", ErrNotFound, fileNumber, endpoint)
		}
		return discovery.Entry{}, fmt.Errorf("loading inventory entry: %w", err)
	}
	entry.Type = discovery.TypeCode(fileType)
	return entry, nil
}

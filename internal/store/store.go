// Package store persists job snapshots in a sqlite database, keyed by the
// packet name and the job id.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CZERTAINLY/rem/internal/job"
)

var ErrNotFound = errors.New("not found")

type SnapshotRow struct {
	Packet   string
	Snapshot job.Snapshot
	Updated  time.Time
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS snapshots (
			packet TEXT NOT NULL,
			job_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (packet, job_id)
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating snapshots table: %w", err)
	}
	return db, nil
}

// Save inserts or replaces the snapshot of a job.
func Save(ctx context.Context, db *sql.DB, packet string, snap job.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", snap.ID, err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO snapshots (packet, job_id, version, data, updated_at) VALUES (?,?,?,?,?)
		 ON CONFLICT (packet, job_id) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at;`,
		packet, snap.ID, snap.Version, string(data), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("executing sql upsert failed: %w", err)
	}
	return nil
}

// Load returns the snapshot of a job, ErrNotFound when there is none.
func Load(ctx context.Context, db *sql.DB, packet, jobID string) (SnapshotRow, error) {
	row := db.QueryRowContext(ctx,
		`SELECT data, updated_at FROM snapshots WHERE packet=? AND job_id=?`, packet, jobID,
	)
	var data string
	var updated int64
	err := row.Scan(&data, &updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return SnapshotRow{}, ErrNotFound
	case err != nil:
		return SnapshotRow{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return decode(packet, data, updated)
}

// List returns all snapshots of a packet ordered by job id.
func List(ctx context.Context, db *sql.DB, packet string) ([]SnapshotRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT job_id, data, updated_at FROM snapshots WHERE packet=? ORDER BY job_id`, packet,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.ErrorContext(ctx, "closing rows failed", "packet", packet, "error", err)
		}
	}()

	var ret []SnapshotRow
	for rows.Next() {
		var id, data string
		var updated int64
		if err := rows.Scan(&id, &data, &updated); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		snap, err := decode(packet, data, updated)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}
		ret = append(ret, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot rows: %w", err)
	}
	return ret, nil
}

// Delete removes all snapshots of a packet and returns how many were removed.
func Delete(ctx context.Context, db *sql.DB, packet string) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("packet", packet))
		}
	}()

	result, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE packet=?`, packet)
	if err != nil {
		return 0, fmt.Errorf("executing sql delete failed: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fetching affected rows failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction failed: %w", err)
	}
	return ra, nil
}

// DeleteJob removes the snapshot of a single job, ErrNotFound when there is none.
func DeleteJob(ctx context.Context, db *sql.DB, packet, jobID string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE packet=? AND job_id=?`, packet, jobID,
	)
	if err != nil {
		return fmt.Errorf("executing sql delete failed: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetching affected rows failed: %w", err)
	}
	if ra != 1 {
		return ErrNotFound
	}
	return nil
}

func decode(packet, data string, updated int64) (SnapshotRow, error) {
	var snap job.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return SnapshotRow{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return SnapshotRow{
		Packet:   packet,
		Snapshot: snap,
		Updated:  time.Unix(0, updated),
	}, nil
}

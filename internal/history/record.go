package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// JobRecord is the persisted outcome of one flash job.
type JobRecord struct {
	ID           string
	Source       string
	DeviceID     string
	DeviceSerial string
	Phase        string
	ImageSize    int64
	BytesWritten int64
	ErrorKind    string
	ErrorMessage string
	// Incomplete marks a device left holding a partial image.
	Incomplete bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time between start and finish, zero while running.
func (r JobRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

const recordColumns = "id, source, device_id, device_serial, phase, image_size, bytes_written, error_kind, error_message, incomplete, started_at, finished_at"

// Record inserts or replaces the row for rec.ID.
func (s *Store) Record(ctx context.Context, rec JobRecord) error {
	if rec.ID == "" {
		return errors.New("job record requires an id")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO jobs (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             source = excluded.source, device_id = excluded.device_id,
             device_serial = excluded.device_serial, phase = excluded.phase,
             image_size = excluded.image_size, bytes_written = excluded.bytes_written,
             error_kind = excluded.error_kind, error_message = excluded.error_message,
             incomplete = excluded.incomplete, started_at = excluded.started_at,
             finished_at = excluded.finished_at`,
		rec.ID,
		rec.Source,
		rec.DeviceID,
		nullableString(rec.DeviceSerial),
		rec.Phase,
		rec.ImageSize,
		rec.BytesWritten,
		nullableString(rec.ErrorKind),
		nullableString(rec.ErrorMessage),
		boolToInt(rec.Incomplete),
		formatTime(rec.StartedAt),
		nullableTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record for id, or nil when none exists.
func (s *Store) Get(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

// List returns the most recent records first. A non-positive limit returns
// everything.
func (s *Store) List(ctx context.Context, limit int) ([]JobRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM jobs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// IncompleteDevices returns the devices whose most recent job left them
// holding a partial image.
func (s *Store) IncompleteDevices(ctx context.Context) (map[string]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM jobs j
         WHERE started_at = (SELECT MAX(started_at) FROM jobs WHERE device_id = j.device_id)
           AND incomplete = 1`)
	if err != nil {
		return nil, fmt.Errorf("query incomplete devices: %w", err)
	}
	defer rows.Close()

	out := make(map[string]JobRecord)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out[rec.DeviceID] = *rec
	}
	return out, rows.Err()
}

// Clear removes every record and returns how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*JobRecord, error) {
	var (
		rec         JobRecord
		serial      sql.NullString
		errorKind   sql.NullString
		errorMsg    sql.NullString
		incomplete  int64
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.Source,
		&rec.DeviceID,
		&serial,
		&rec.Phase,
		&rec.ImageSize,
		&rec.BytesWritten,
		&errorKind,
		&errorMsg,
		&incomplete,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	rec.DeviceSerial = serial.String
	rec.ErrorKind = errorKind.String
	rec.ErrorMessage = errorMsg.String
	rec.Incomplete = incomplete != 0
	if started, err := time.Parse(time.RFC3339Nano, startedRaw); err == nil {
		rec.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := time.Parse(time.RFC3339Nano, finishedRaw.String); err == nil {
			rec.FinishedAt = finished
		}
	}
	return &rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// timeLayout is fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

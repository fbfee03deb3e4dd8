package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (r *RepositoryImpl) GetSyncState(ctx context.Context, calendarId string) (SyncState, error) {
	query := `SELECT calendar_id, status, last_sync_ms, last_error, failures, halted, next_retry_ms
			  FROM sync_state WHERE calendar_id = ?`
	var state SyncState
	var status string
	var lastSync, nextRetry sql.NullInt64
	var halted int
	err := r.getQueryer().QueryRowContext(ctx, query, calendarId).
		Scan(&state.CalendarID, &status, &lastSync, &state.LastError, &state.Failures, &halted, &nextRetry)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncState{}, fmt.Errorf("%w: sync state of calendar %q", ErrNotFound, calendarId)
	}
	if err != nil {
		return SyncState{}, storageErr("could not read sync state", err)
	}
	state.Status = SyncStatus(status)
	state.LastSync = fromNullMillis(lastSync)
	state.NextRetry = fromNullMillis(nextRetry)
	state.Halted = halted == 1
	return state, nil
}

func (r *RepositoryImpl) SaveSyncState(ctx context.Context, state SyncState) error {
	query := `INSERT INTO sync_state (calendar_id, status, last_sync_ms, last_error, failures, halted, next_retry_ms)
			  VALUES (?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT (calendar_id) DO UPDATE SET
			      status = excluded.status,
			      last_sync_ms = excluded.last_sync_ms,
			      last_error = excluded.last_error,
			      failures = excluded.failures,
			      halted = excluded.halted,
			      next_retry_ms = excluded.next_retry_ms`
	_, err := r.getQueryer().ExecContext(ctx, query, state.CalendarID, string(state.Status), nullMillis(state.LastSync),
		state.LastError, state.Failures, boolToInt(state.Halted), nullMillis(state.NextRetry))
	if err != nil {
		return storageErr("could not save sync state", err)
	}
	return nil
}

func (r *RepositoryImpl) InsertBackup(ctx context.Context, backup Backup) (int64, error) {
	query := `INSERT INTO event_backups (calendar_id, uid, raw, etag, reason, created_ms) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.getQueryer().ExecContext(ctx, query, backup.CalendarID, backup.UID, backup.Raw, nullString(backup.ETag),
		backup.Reason, backup.CreatedAt.UnixMilli())
	if err != nil {
		return 0, storageErr("could not insert event backup", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("could not read backup id", err)
	}
	return id, nil
}

const backupColumns = `id, calendar_id, uid, raw, etag, reason, created_ms`

func scanBackup(scan func(dest ...any) error) (Backup, error) {
	var b Backup
	var etag sql.NullString
	var createdMs int64
	if err := scan(&b.ID, &b.CalendarID, &b.UID, &b.Raw, &etag, &b.Reason, &createdMs); err != nil {
		return Backup{}, err
	}
	b.ETag = etag.String
	b.CreatedAt = time.UnixMilli(createdMs).UTC()
	return b, nil
}

func (r *RepositoryImpl) ListBackups(ctx context.Context, calendarId string) ([]Backup, error) {
	rows, err := r.getQueryer().QueryContext(ctx,
		`SELECT `+backupColumns+` FROM event_backups WHERE calendar_id = ? ORDER BY created_ms DESC, id DESC`, calendarId)
	if err != nil {
		return nil, storageErr("could not query event backups", err)
	}
	defer rows.Close()

	backups := make([]Backup, 0)
	for rows.Next() {
		b, err := scanBackup(rows.Scan)
		if err != nil {
			return nil, storageErr("could not scan event backup", err)
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("could not iterate event backups", err)
	}
	return backups, nil
}

func (r *RepositoryImpl) GetBackup(ctx context.Context, calendarId string, id int64) (Backup, error) {
	row := r.getQueryer().QueryRowContext(ctx,
		`SELECT `+backupColumns+` FROM event_backups WHERE calendar_id = ? AND id = ?`, calendarId, id)
	b, err := scanBackup(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Backup{}, fmt.Errorf("%w: backup %d in calendar %q", ErrNotFound, id, calendarId)
	}
	if err != nil {
		return Backup{}, storageErr("could not read event backup", err)
	}
	return b, nil
}

func (r *RepositoryImpl) DeleteBackup(ctx context.Context, calendarId string, id int64) error {
	res, err := r.getQueryer().ExecContext(ctx, `DELETE FROM event_backups WHERE calendar_id = ? AND id = ?`, calendarId, id)
	if err != nil {
		return storageErr("could not delete event backup", err)
	}
	return expectOneRow(res, fmt.Sprintf("backup %d in calendar %q", id, calendarId))
}

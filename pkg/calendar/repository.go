package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error

	CreateCalendar(ctx context.Context, cal Calendar) error
	GetCalendar(ctx context.Context, id string) (Calendar, error)
	ListCalendars(ctx context.Context) ([]Calendar, error)
	UpdateCalendar(ctx context.Context, cal Calendar) error
	SetCTag(ctx context.Context, id string, ctag string) error
	BumpRevision(ctx context.Context, id string) (int64, error)
	DeleteCalendar(ctx context.Context, id string) error

	InsertEvent(ctx context.Context, event Event) error
	GetEvent(ctx context.Context, calendarId string, uid string) (Event, error)
	UpdateEvent(ctx context.Context, event Event) error
	DeleteEvent(ctx context.Context, calendarId string, uid string) error
	ListEvents(ctx context.Context, calendarId string, from, to time.Time) ([]Event, error)
	ListVisibleEvents(ctx context.Context, from, to time.Time) ([]Event, error)
	ListCalendarEvents(ctx context.Context, calendarId string, includeDeleted bool) ([]Event, error)

	GetSyncState(ctx context.Context, calendarId string) (SyncState, error)
	SaveSyncState(ctx context.Context, state SyncState) error

	InsertBackup(ctx context.Context, backup Backup) (int64, error)
	ListBackups(ctx context.Context, calendarId string) ([]Backup, error)
	GetBackup(ctx context.Context, calendarId string, id int64) (Backup, error)
	DeleteBackup(ctx context.Context, calendarId string, id int64) error
}

type RepositoryImpl struct {
	db *sql.DB
	tx *sql.Tx
}

func NewRepository(db *sql.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db, tx: nil}
}

// getQueryer returns the appropriate database interface for queries (either tx or db)
func (r *RepositoryImpl) getQueryer() interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
} {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// WithTransaction runs fn in a transaction. Called on a repository that is
// already bound to a transaction, fn joins that transaction.
func (r *RepositoryImpl) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrStorage, err)
	}
	defer func() {
		// The Rollback will be a no-op if the transaction was already committed
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Errorf("rollback error: %v", rbErr)
		}
	}()

	txRepo := &RepositoryImpl{db: r.db, tx: tx}

	if err := fn(txRepo); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", ErrStorage, err)
	}

	return nil
}

func storageErr(action string, err error) error {
	err = fmt.Errorf("%w: %s: %v", ErrStorage, action, err)
	log.Error(err)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *RepositoryImpl) CreateCalendar(ctx context.Context, cal Calendar) error {
	query := `INSERT INTO calendars (id, name, color, kind, visible, sync_interval_sec, remote_url, account_id, ctag, revision, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT (id) DO NOTHING`
	res, err := r.getQueryer().ExecContext(ctx, query, cal.ID, cal.Name, cal.Color, string(cal.Kind), boolToInt(cal.Visible),
		int64(cal.SyncInterval/time.Second), nullString(cal.RemoteURL), nullString(cal.AccountID), nullString(cal.CTag),
		cal.Revision, cal.CreatedAt.UnixMilli())
	if err != nil {
		return storageErr("could not insert calendar", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: calendar %q already exists", ErrConflict, cal.ID)
	}
	return nil
}

const calendarColumns = `id, name, color, kind, visible, sync_interval_sec, remote_url, account_id, ctag, revision, created_at`

func scanCalendar(scan func(dest ...any) error) (Calendar, error) {
	var cal Calendar
	var kind string
	var visible int
	var intervalSec, createdAt int64
	var remoteURL, accountId, ctag sql.NullString
	err := scan(&cal.ID, &cal.Name, &cal.Color, &kind, &visible, &intervalSec, &remoteURL, &accountId, &ctag, &cal.Revision, &createdAt)
	if err != nil {
		return Calendar{}, err
	}
	cal.Kind = SourceKind(kind)
	cal.Visible = visible == 1
	cal.SyncInterval = time.Duration(intervalSec) * time.Second
	cal.RemoteURL = remoteURL.String
	cal.AccountID = accountId.String
	cal.CTag = ctag.String
	cal.CreatedAt = time.UnixMilli(createdAt).UTC()
	return cal, nil
}

func (r *RepositoryImpl) GetCalendar(ctx context.Context, id string) (Calendar, error) {
	row := r.getQueryer().QueryRowContext(ctx, `SELECT `+calendarColumns+` FROM calendars WHERE id = ?`, id)
	cal, err := scanCalendar(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Calendar{}, fmt.Errorf("%w: calendar %q", ErrNotFound, id)
	}
	if err != nil {
		return Calendar{}, storageErr("could not read calendar", err)
	}
	return cal, nil
}

func (r *RepositoryImpl) ListCalendars(ctx context.Context) ([]Calendar, error) {
	rows, err := r.getQueryer().QueryContext(ctx, `SELECT `+calendarColumns+` FROM calendars ORDER BY created_at, id`)
	if err != nil {
		return nil, storageErr("could not query calendars", err)
	}
	defer rows.Close()

	calendars := make([]Calendar, 0, 4)
	for rows.Next() {
		cal, err := scanCalendar(rows.Scan)
		if err != nil {
			return nil, storageErr("could not scan calendar", err)
		}
		calendars = append(calendars, cal)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("could not iterate calendars", err)
	}
	return calendars, nil
}

func (r *RepositoryImpl) UpdateCalendar(ctx context.Context, cal Calendar) error {
	query := `UPDATE calendars SET name = ?, color = ?, visible = ?, sync_interval_sec = ?, remote_url = ?, account_id = ?
			  WHERE id = ?`
	res, err := r.getQueryer().ExecContext(ctx, query, cal.Name, cal.Color, boolToInt(cal.Visible),
		int64(cal.SyncInterval/time.Second), nullString(cal.RemoteURL), nullString(cal.AccountID), cal.ID)
	if err != nil {
		return storageErr("could not update calendar", err)
	}
	return expectOneRow(res, "calendar "+cal.ID)
}

func (r *RepositoryImpl) SetCTag(ctx context.Context, id string, ctag string) error {
	res, err := r.getQueryer().ExecContext(ctx, `UPDATE calendars SET ctag = ? WHERE id = ? AND kind = 'remote'`, nullString(ctag), id)
	if err != nil {
		return storageErr("could not store ctag", err)
	}
	return expectOneRow(res, "remote calendar "+id)
}

func (r *RepositoryImpl) BumpRevision(ctx context.Context, id string) (int64, error) {
	var revision int64
	err := r.getQueryer().QueryRowContext(ctx, `UPDATE calendars SET revision = revision + 1 WHERE id = ? RETURNING revision`, id).
		Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: calendar %q", ErrNotFound, id)
	}
	if err != nil {
		return 0, storageErr("could not bump calendar revision", err)
	}
	return revision, nil
}

// DeleteCalendar removes the calendar; events, backups and sync state go with it (ON DELETE CASCADE).
func (r *RepositoryImpl) DeleteCalendar(ctx context.Context, id string) error {
	res, err := r.getQueryer().ExecContext(ctx, `DELETE FROM calendars WHERE id = ?`, id)
	if err != nil {
		return storageErr("could not delete calendar", err)
	}
	return expectOneRow(res, "calendar "+id)
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("could not read affected rows", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return nil
}

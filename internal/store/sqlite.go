package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/thedetect/universe-talk-bot/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single writer; transactions below rely on the one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	err = runMigrations(ctx, "sqlite", func(ctx context.Context, _, body string) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, body); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// CreateUser inserts a new user row. An existing chat keeps its data and created is false.
func (r *SQLiteRepo) CreateUser(ctx context.Context, u *domain.User) (bool, error) {
	if u == nil {
		return false, errors.New("nil user")
	}
	created := u.CreatedAt.UTC().Unix()
	if u.CreatedAt.IsZero() {
		created = time.Now().UTC().Unix()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (
			id, name, tz, send_at, birth_date, birth_time, birth_place,
			trial_start, subscription_until, bonus_days, referral_code, referred_by,
			blocked, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		u.ID, u.Name, u.TZ, toNullClock(u.SendAt), u.BirthDate, u.BirthTime, u.BirthPlace,
		toNullDate(u.TrialStart), toNullDate(u.SubscriptionUntil), u.BonusDays,
		nullIfEmpty(u.ReferralCode), toNullInt64(u.ReferredBy),
		boolToInt(u.Blocked), created,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrCodeTaken
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetUser returns a user by chat id or ErrNotFound.
func (r *SQLiteRepo) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// ListActive returns schedulable users ordered by id.
func (r *SQLiteRepo) ListActive(ctx context.Context) ([]domain.User, error) {
	return r.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE blocked = 0
		  AND send_at IS NOT NULL
		ORDER BY id ASC`)
}

// UpdateProfile overwrites the non-empty fields of p.
func (r *SQLiteRepo) UpdateProfile(ctx context.Context, id int64, p Profile) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET name        = COALESCE(NULLIF(?, ''), name),
		    birth_date  = COALESCE(NULLIF(?, ''), birth_date),
		    birth_time  = COALESCE(NULLIF(?, ''), birth_time),
		    birth_place = COALESCE(NULLIF(?, ''), birth_place)
		WHERE id = ?`,
		p.Name, p.BirthDate, p.BirthTime, p.BirthPlace, id,
	)
	return requireRow(res, err)
}

// UpdateSchedule stores the daily send time and zone.
func (r *SQLiteRepo) UpdateSchedule(ctx context.Context, id int64, at domain.ClockTime, tz string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET send_at = ?, tz = ?
		WHERE id = ?`,
		at.String(), tz, id,
	)
	return requireRow(res, err)
}

// SetBlocked toggles the blocked flag for a user.
func (r *SQLiteRepo) SetBlocked(ctx context.Context, id int64, blocked bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET blocked = ?
		WHERE id = ?`,
		boolToInt(blocked), id,
	)
	return requireRow(res, err)
}

// StartTrial sets trial_start once; later calls are no-ops.
func (r *SQLiteRepo) StartTrial(ctx context.Context, id int64, day civil.Date) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET trial_start = ?
		WHERE id = ? AND trial_start IS NULL`,
		day.String(), id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n == 1 {
		return err
	}
	return r.exists(ctx, id)
}

// ExtendSubscription moves subscription_until forward and returns the new end date.
func (r *SQLiteRepo) ExtendSubscription(ctx context.Context, id int64, today civil.Date, days int) (civil.Date, error) {
	if days <= 0 {
		return civil.Date{}, fmt.Errorf("extend by %d days", days)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return civil.Date{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var cur sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT subscription_until FROM users WHERE id = ?`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return civil.Date{}, ErrNotFound
	}
	if err != nil {
		return civil.Date{}, err
	}
	current, err := fromNullDate(cur)
	if err != nil {
		return civil.Date{}, err
	}
	until := extendFrom(current, today, days)

	if _, err := tx.ExecContext(ctx, `UPDATE users SET subscription_until = ? WHERE id = ?`, until.String(), id); err != nil {
		return civil.Date{}, err
	}
	return until, tx.Commit()
}

// AddBonusDays credits days to the user's bonus balance.
func (r *SQLiteRepo) AddBonusDays(ctx context.Context, id int64, days int) error {
	if days <= 0 {
		return fmt.Errorf("add %d bonus days", days)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET bonus_days = bonus_days + ?
		WHERE id = ?`,
		days, id,
	)
	return requireRow(res, err)
}

// ApplyBonusDayConsumption records the charge for (id, day) and decrements the balance
// in one transaction. A second call for the same day returns ErrAlreadyConsumed.
func (r *SQLiteRepo) ApplyBonusDayConsumption(ctx context.Context, id int64, day civil.Date) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO bonus_consumptions (user_id, local_date, consumed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, local_date) DO NOTHING`,
		id, day.String(), time.Now().UTC().Unix(),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrAlreadyConsumed
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE users
		SET bonus_days = bonus_days - 1
		WHERE id = ? AND bonus_days > 0`,
		id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNoBonusDays
	}
	return tx.Commit()
}

// RecordDelivery marks (id, day) as delivered. A second record returns ErrAlreadyDelivered.
func (r *SQLiteRepo) RecordDelivery(ctx context.Context, id int64, day civil.Date, kind DeliveryKind, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO deliveries (user_id, local_date, kind, sent_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, local_date) DO NOTHING`,
		id, day.String(), string(kind), at.UTC().Unix(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyDelivered
	}
	return nil
}

// DeliveredOn reports whether a message was already recorded for (id, day).
func (r *SQLiteRepo) DeliveredOn(ctx context.Context, id int64, day civil.Date) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM deliveries WHERE user_id = ? AND local_date = ?`,
		id, day.String(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// SetReferralCode assigns the user's invite code. Collisions return ErrCodeTaken.
func (r *SQLiteRepo) SetReferralCode(ctx context.Context, id int64, code string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET referral_code = ? WHERE id = ?`, code, id)
	if err != nil && isUniqueViolation(err) {
		return ErrCodeTaken
	}
	return requireRow(res, err)
}

// FindByReferralCode returns the owner of code or ErrNotFound.
func (r *SQLiteRepo) FindByReferralCode(ctx context.Context, code string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = ?`, code)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// SetReferredBy writes referred_by only while it is still empty.
func (r *SQLiteRepo) SetReferredBy(ctx context.Context, id, referrerID int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET referred_by = ?
		WHERE id = ? AND referred_by IS NULL`,
		referrerID, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if err := r.exists(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyReferred
}

// ListReferrals returns users invited by referrerID, oldest first.
func (r *SQLiteRepo) ListReferrals(ctx context.Context, referrerID int64) ([]domain.User, error) {
	return r.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE referred_by = ?
		ORDER BY created_at ASC, id ASC`, referrerID)
}

func (r *SQLiteRepo) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *SQLiteRepo) exists(ctx context.Context, id int64) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// requireRow maps "no row updated" to ErrNotFound.
func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// boolToInt converts a boolean to 1/0 for SQLite.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

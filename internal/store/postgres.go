package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thedetect/universe-talk-bot/internal/domain"
)

const pgUniqueViolation = "23505"

// PostgresRepo implements Repo on a pgx connection pool.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, pings the server and runs the postgres migrations.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresRepo, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	err = runMigrations(ctx, "postgres", func(ctx context.Context, _, body string) error {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()
		// No arguments: pgx sends the file over the simple protocol, which allows several statements.
		if _, err := tx.Exec(ctx, body); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &PostgresRepo{pool: pool}, nil
}

// Close releases the pool.
func (r *PostgresRepo) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepo) CreateUser(ctx context.Context, u *domain.User) (bool, error) {
	if u == nil {
		return false, errors.New("nil user")
	}
	created := u.CreatedAt.UTC().Unix()
	if u.CreatedAt.IsZero() {
		created = time.Now().UTC().Unix()
	}

	const q = `
		INSERT INTO users (
			id, name, tz, send_at, birth_date, birth_time, birth_place,
			trial_start, subscription_until, bonus_days, referral_code, referred_by,
			blocked, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q,
		u.ID, u.Name, u.TZ, toNullClock(u.SendAt), u.BirthDate, u.BirthTime, u.BirthPlace,
		toNullDate(u.TrialStart), toNullDate(u.SubscriptionUntil), u.BonusDays,
		nullIfEmpty(u.ReferralCode), toNullInt64(u.ReferredBy),
		u.Blocked, created,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return false, ErrCodeTaken
		}
		return false, fmt.Errorf("inserting user %d: %w", u.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepo) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (r *PostgresRepo) ListActive(ctx context.Context) ([]domain.User, error) {
	return r.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE NOT blocked
		  AND send_at IS NOT NULL
		ORDER BY id ASC`)
}

func (r *PostgresRepo) UpdateProfile(ctx context.Context, id int64, p Profile) error {
	const q = `
		UPDATE users
		SET name        = COALESCE(NULLIF($1, ''), name),
		    birth_date  = COALESCE(NULLIF($2, ''), birth_date),
		    birth_time  = COALESCE(NULLIF($3, ''), birth_time),
		    birth_place = COALESCE(NULLIF($4, ''), birth_place)
		WHERE id = $5`
	tag, err := r.pool.Exec(ctx, q, p.Name, p.BirthDate, p.BirthTime, p.BirthPlace, id)
	return requireTag(tag, err)
}

func (r *PostgresRepo) UpdateSchedule(ctx context.Context, id int64, at domain.ClockTime, tz string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET send_at = $1, tz = $2 WHERE id = $3`, at.String(), tz, id)
	return requireTag(tag, err)
}

func (r *PostgresRepo) SetBlocked(ctx context.Context, id int64, blocked bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET blocked = $1 WHERE id = $2`, blocked, id)
	return requireTag(tag, err)
}

func (r *PostgresRepo) StartTrial(ctx context.Context, id int64, day civil.Date) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET trial_start = $1
		WHERE id = $2 AND trial_start IS NULL`, day.String(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.exists(ctx, id)
}

func (r *PostgresRepo) ExtendSubscription(ctx context.Context, id int64, today civil.Date, days int) (civil.Date, error) {
	if days <= 0 {
		return civil.Date{}, fmt.Errorf("extend by %d days", days)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return civil.Date{}, fmt.Errorf("starting transaction for extension: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur sql.NullString
	err = tx.QueryRow(ctx, `SELECT subscription_until FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
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

	if _, err := tx.Exec(ctx, `UPDATE users SET subscription_until = $1 WHERE id = $2`, until.String(), id); err != nil {
		return civil.Date{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return civil.Date{}, fmt.Errorf("committing extension for user %d: %w", id, err)
	}
	return until, nil
}

func (r *PostgresRepo) AddBonusDays(ctx context.Context, id int64, days int) error {
	if days <= 0 {
		return fmt.Errorf("add %d bonus days", days)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE users SET bonus_days = bonus_days + $1 WHERE id = $2`, days, id)
	return requireTag(tag, err)
}

func (r *PostgresRepo) ApplyBonusDayConsumption(ctx context.Context, id int64, day civil.Date) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction for bonus day: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO bonus_consumptions (user_id, local_date, consumed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, local_date) DO NOTHING`,
		id, day.String(), time.Now().UTC().Unix())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyConsumed
	}

	tag, err = tx.Exec(ctx, `
		UPDATE users SET bonus_days = bonus_days - 1
		WHERE id = $1 AND bonus_days > 0`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoBonusDays
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing bonus day for user %d: %w", id, err)
	}
	return nil
}

func (r *PostgresRepo) RecordDelivery(ctx context.Context, id int64, day civil.Date, kind DeliveryKind, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO deliveries (user_id, local_date, kind, sent_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, local_date) DO NOTHING`,
		id, day.String(), string(kind), at.UTC().Unix())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyDelivered
	}
	return nil
}

func (r *PostgresRepo) DeliveredOn(ctx context.Context, id int64, day civil.Date) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM deliveries WHERE user_id = $1 AND local_date = $2)`,
		id, day.String()).Scan(&ok)
	return ok, err
}

func (r *PostgresRepo) SetReferralCode(ctx context.Context, id int64, code string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET referral_code = $1 WHERE id = $2`, code, id)
	if err != nil && isPgUniqueViolation(err) {
		return ErrCodeTaken
	}
	return requireTag(tag, err)
}

func (r *PostgresRepo) FindByReferralCode(ctx context.Context, code string) (*domain.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (r *PostgresRepo) SetReferredBy(ctx context.Context, id, referrerID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET referred_by = $1
		WHERE id = $2 AND referred_by IS NULL`, referrerID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := r.exists(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyReferred
}

func (r *PostgresRepo) ListReferrals(ctx context.Context, referrerID int64) ([]domain.User, error) {
	return r.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE referred_by = $1
		ORDER BY created_at ASC, id ASC`, referrerID)
}

func (r *PostgresRepo) queryUsers(ctx context.Context, q string, args ...any) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, q, args...)
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
	return res, rows.Err()
}

func (r *PostgresRepo) exists(ctx context.Context, id int64) error {
	var ok bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func requireTag(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/photocredit/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrPurchaseNotFound возвращается, если покупка по идентификатору сессии не найдена.
	ErrPurchaseNotFound = errors.New("purchase not found")
	// ErrPurchaseExists возвращается, если покупка с таким идентификатором сессии уже записана.
	ErrPurchaseExists = errors.New("purchase already recorded")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool  *pgxpool.Pool
	sleep func(time.Duration)
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, sleep: time.Sleep}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 1 * time.Second}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(retryDelays) || ctx.Err() != nil {
			break
		}

		r.sleep(retryDelays[i])
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя. Email должен быть уже нормализован.
func (r *PostgresRepository) CreateUser(ctx context.Context, email string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id`,
		email, passwordHash,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getUser(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getUser(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) getUser(ctx context.Context, query string, arg any) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetLedger возвращает кредитный баланс пользователя. Для пользователя без записи
// в credit_ledger возвращается нулевой баланс.
func (r *PostgresRepository) GetLedger(ctx context.Context, userID int64) (*model.Ledger, error) {
	var (
		credits  string
		freeUsed int
	)
	err := r.pool.QueryRow(ctx,
		`SELECT credits::text, free_used FROM credit_ledger WHERE user_id = $1`,
		userID,
	).Scan(&credits, &freeUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.Ledger{UserID: userID, Credits: decimal.Zero}, nil
		}
		return nil, fmt.Errorf("select ledger: %w", err)
	}

	amount, err := decimal.NewFromString(credits)
	if err != nil {
		return nil, fmt.Errorf("parse credits: %w", err)
	}

	return &model.Ledger{UserID: userID, Credits: amount, FreeUsed: freeUsed}, nil
}

// GetPurchaseBySession возвращает покупку по идентификатору checkout-сессии.
func (r *PostgresRepository) GetPurchaseBySession(ctx context.Context, sessionID string) (*model.Purchase, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT session_id, user_id, amount_cents, currency, credits::text, status, created_at
		 FROM purchases
		 WHERE session_id = $1`,
		sessionID,
	)

	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("select purchase: %w", err)
	}
	return p, nil
}

// ListPurchases возвращает историю покупок пользователя, новые первыми.
func (r *PostgresRepository) ListPurchases(ctx context.Context, userID int64) ([]model.Purchase, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, user_id, amount_cents, currency, credits::text, status, created_at
		 FROM purchases
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select purchases: %w", err)
	}
	defer rows.Close()

	var res []model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanPurchase(row pgx.Row) (*model.Purchase, error) {
	var (
		p       model.Purchase
		credits string
		status  string
	)
	if err := row.Scan(&p.SessionID, &p.UserID, &p.AmountCents, &p.Currency, &credits, &status, &p.CreatedAt); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(credits)
	if err != nil {
		return nil, fmt.Errorf("parse credits: %w", err)
	}
	p.Credits = amount
	p.Status = model.PurchaseStatus(status)

	return &p, nil
}

// Fulfill в одной транзакции начисляет кредиты на баланс пользователя и записывает
// покупку со статусом paid. Если покупка с этим идентификатором сессии уже есть,
// транзакция откатывается целиком и возвращается ErrPurchaseExists.
func (r *PostgresRepository) Fulfill(ctx context.Context, p model.Purchase) error {
	return r.withRetry(ctx, func() error {
		return r.fulfillTx(ctx, p)
	})
}

func (r *PostgresRepository) fulfillTx(ctx context.Context, p model.Purchase) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO credit_ledger (user_id, credits)
		 VALUES ($1, $2::numeric)
		 ON CONFLICT (user_id) DO UPDATE
		 SET credits = credit_ledger.credits + EXCLUDED.credits, updated_at = now()`,
		p.UserID, p.Credits.StringFixed(2),
	)
	if err != nil {
		return fmt.Errorf("upsert ledger: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO purchases (session_id, user_id, amount_cents, currency, credits, status)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
		p.SessionID, p.UserID, p.AmountCents, p.Currency, p.Credits.StringFixed(2), string(model.PurchaseStatusPaid),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrPurchaseExists, p.SessionID)
		}
		return fmt.Errorf("insert purchase: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"prokat-bot/internal/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

type PostgresStorage struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewPostgresStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*PostgresStorage, error) {
	const operation = "storage.NewPostgresStorage"

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
	)

	var db *sqlx.DB
	var err error

	retryPolicy := backoff.NewExponentialBackOff()
	retryPolicy.MaxElapsedTime = 2 * time.Minute
	retryPolicy.MaxInterval = 15 * time.Second

	logger.Info("Connecting to PostgreSQL...")

	err = backoff.RetryNotify(
		func() error {
			db, err = sqlx.ConnectContext(ctx, "postgres", connStr)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			if err = db.PingContext(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
		retryPolicy,
		func(err error, duration time.Duration) {
			logger.Warn("PostgreSQL connection failed, retrying...",
				zap.Error(err),
				zap.Duration("next_attempt_in", duration))
		},
	)

	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect after retries: %w", operation, err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	logger.Info("Successfully connected to PostgreSQL")
	return &PostgresStorage{
		db:     db,
		logger: logger,
	}, nil
}

// DB exposes the raw connection for the migrator.
func (s *PostgresStorage) DB() *sql.DB {
	return s.db.DB
}

func (s *PostgresStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Users & Admins ---

func (s *PostgresStorage) GetUserByTelegramID(ctx context.Context, telegramID string) (*User, error) {
	const query = `SELECT * FROM users WHERE telegram_id = $1`

	var user User
	err := s.db.GetContext(ctx, &user, query, telegramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *PostgresStorage) CreateUser(ctx context.Context, user User) (int64, error) {
	const query = `
        INSERT INTO users (telegram_id, name, phone_number, height, weight)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (telegram_id) DO NOTHING
        RETURNING id
    `

	var userID int64
	err := s.db.QueryRowContext(ctx, query,
		user.TelegramID,
		user.Name,
		user.PhoneNumber,
		user.Height,
		user.Weight,
	).Scan(&userID)

	if errors.Is(err, sql.ErrNoRows) {
		// Already registered. Return the existing row's id.
		existing, getErr := s.GetUserByTelegramID(ctx, user.TelegramID)
		if getErr != nil {
			return 0, fmt.Errorf("failed to load existing user: %w", getErr)
		}
		return existing.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return userID, nil
}

// userColumns whitelists the profile fields ProfileEdit may touch.
var userColumns = map[string]string{
	"name":   "name",
	"phone":  "phone_number",
	"height": "height",
	"weight": "weight",
}

func (s *PostgresStorage) UpdateUserField(ctx context.Context, telegramID, field, value string) error {
	column, ok := userColumns[field]
	if !ok {
		return fmt.Errorf("unknown user field: %s", field)
	}

	query := fmt.Sprintf(`UPDATE users SET %s = $1, updated_at = now() WHERE telegram_id = $2`, column)
	res, err := s.db.ExecContext(ctx, query, value, telegramID)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", field, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) GetAdminByTelegramID(ctx context.Context, telegramID string) (*Admin, error) {
	const query = `SELECT * FROM admins WHERE telegram_id = $1`

	var admin Admin
	err := s.db.GetContext(ctx, &admin, query, telegramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	return &admin, nil
}

func (s *PostgresStorage) ListAdmins(ctx context.Context) ([]Admin, error) {
	const query = `SELECT * FROM admins ORDER BY id`

	var admins []Admin
	if err := s.db.SelectContext(ctx, &admins, query); err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	return admins, nil
}

// --- Items ---

func (s *PostgresStorage) ItemCategories(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT category FROM items ORDER BY category`

	var categories []string
	if err := s.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}
	return categories, nil
}

func (s *PostgresStorage) ItemSubcategories(ctx context.Context, category string) ([]string, error) {
	const query = `SELECT DISTINCT subcategory FROM items WHERE category = $1 ORDER BY subcategory`

	var subcategories []string
	if err := s.db.SelectContext(ctx, &subcategories, query, category); err != nil {
		return nil, fmt.Errorf("failed to get subcategories: %w", err)
	}
	return subcategories, nil
}

func (s *PostgresStorage) ItemDurations(ctx context.Context, category, subcategory string) ([]Duration, error) {
	const query = `
        SELECT DISTINCT duration_value, duration_label
        FROM items
        WHERE category = $1 AND subcategory = $2
        ORDER BY duration_value
    `

	var durations []Duration
	if err := s.db.SelectContext(ctx, &durations, query, category, subcategory); err != nil {
		return nil, fmt.Errorf("failed to get durations: %w", err)
	}
	return durations, nil
}

// GetItem resolves one catalog position. All three predicates are required:
// the same duration value can exist under several subcategories.
func (s *PostgresStorage) GetItem(ctx context.Context, category, subcategory, durationValue string) (*Item, error) {
	const query = `
        SELECT * FROM items
        WHERE category = $1 AND subcategory = $2 AND duration_value = $3
    `

	var item Item
	err := s.db.GetContext(ctx, &item, query, category, subcategory, durationValue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

// ReplaceItems swaps the whole catalog in one transaction. On any failure
// the old item set stays in place.
func (s *PostgresStorage) ReplaceItems(ctx context.Context, items []Item) error {
	const operation = "storage.ReplaceItems"

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", operation, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("%s: clear items: %w", operation, err)
	}

	const insert = `
        INSERT INTO items (name, category, subcategory, duration_value, duration_label, price, external_key)
        VALUES (:name, :category, :subcategory, :duration_value, :duration_label, :price, :external_key)
    `
	for _, item := range items {
		if _, err := tx.NamedExecContext(ctx, insert, item); err != nil {
			return fmt.Errorf("%s: insert item %s: %w", operation, item.ExternalKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", operation, err)
	}

	s.logger.Info("Catalog replaced", zap.Int("items", len(items)))
	return nil
}

// --- Orders ---

func (s *PostgresStorage) CreateOrder(ctx context.Context, order Order) (int64, error) {
	const query = `
        INSERT INTO orders (telegram_id, category, subcategory, duration, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `

	var orderID int64
	err := s.db.QueryRowContext(ctx, query,
		order.TelegramID,
		order.Category,
		order.Subcategory,
		order.Duration,
		order.Status,
	).Scan(&orderID)

	if err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}
	return orderID, nil
}

func (s *PostgresStorage) SetOrderSubcategory(ctx context.Context, orderID int64, subcategory string) error {
	const query = `UPDATE orders SET subcategory = $1, updated_at = now() WHERE id = $2`

	if _, err := s.db.ExecContext(ctx, query, subcategory, orderID); err != nil {
		return fmt.Errorf("failed to set order subcategory: %w", err)
	}
	return nil
}

func (s *PostgresStorage) SetOrderDuration(ctx context.Context, orderID int64, duration string) error {
	const query = `UPDATE orders SET duration = $1, updated_at = now() WHERE id = $2`

	if _, err := s.db.ExecContext(ctx, query, duration, orderID); err != nil {
		return fmt.Errorf("failed to set order duration: %w", err)
	}
	return nil
}

func (s *PostgresStorage) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	const query = `UPDATE orders SET status = $1, updated_at = now() WHERE id = $2`

	if _, err := s.db.ExecContext(ctx, query, status, orderID); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

func (s *PostgresStorage) DeleteOrder(ctx context.Context, orderID int64) error {
	const query = `DELETE FROM orders WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, orderID); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// PurgeRecordingOrders drops abandoned funnel orders for one identity.
// Called when the user returns to the main menu.
func (s *PostgresStorage) PurgeRecordingOrders(ctx context.Context, telegramID string) error {
	const query = `DELETE FROM orders WHERE telegram_id = $1 AND status = $2`

	if _, err := s.db.ExecContext(ctx, query, telegramID, StatusRecording); err != nil {
		return fmt.Errorf("failed to purge recording orders: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListOrders(ctx context.Context) ([]OrderWithUser, error) {
	const query = `
        SELECT o.*, COALESCE(u.name, '') AS user_name, COALESCE(u.phone_number, '') AS user_phone
        FROM orders o
        LEFT JOIN users u ON u.telegram_id = o.telegram_id
        ORDER BY o.created_at DESC
    `

	var orders []OrderWithUser
	if err := s.db.SelectContext(ctx, &orders, query); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/studybot-it/studybot/storage"
)

// Store implements storage.UserStore using an embedded SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Compile-time interface check.
var _ storage.UserStore = (*Store)(nil)

// Open opens (or creates) the SQLite database at the given path, applies
// recommended PRAGMAs, runs migrations, and returns a store.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// SQLite is a single-writer engine; keep the pool at one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &Store{db: db, logger: slog.Default()}, nil
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

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Close releases the underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateAccount creates a new aggregate for externalID.
func (s *Store) CreateAccount(ctx context.Context, externalID string, primary storage.TokenPair) (*storage.UserAccount, error) {
	if externalID == "" {
		return nil, fmt.Errorf("externalID cannot be empty")
	}

	createdAt := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			external_id, created_at,
			primary_access_token, primary_refresh_token, primary_expires_at,
			secondary_connected, study_minutes, break_minutes
		) VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		externalID, createdAt.UTC().Unix(),
		primary.AccessToken, primary.RefreshToken, primary.ExpiresAt.UTC().Unix(),
		storage.DefaultStudyMinutes, storage.DefaultBreakMinutes,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s", storage.ErrConflict, externalID)
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}

	s.logger.Debug("Created account", "external_id", externalID)

	return &storage.UserAccount{
		ExternalID:  externalID,
		PrimaryAuth: primary,
		SecondaryAuth: storage.SecondaryAuth{
			Connected: false,
		},
		TodoItems: []storage.TodoItem{},
		StudyTimer: storage.StudyTimerConfig{
			StudyMinutes: storage.DefaultStudyMinutes,
			BreakMinutes: storage.DefaultBreakMinutes,
		},
		CreatedAt: createdAt,
	}, nil
}

// GetAccount retrieves the full aggregate.
func (s *Store) GetAccount(ctx context.Context, externalID string) (*storage.UserAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT external_id, created_at,
		       primary_access_token, primary_refresh_token, primary_expires_at,
		       secondary_connected, secondary_user_id,
		       secondary_access_token, secondary_refresh_token, secondary_expires_at,
		       study_minutes, break_minutes
		FROM accounts
		WHERE external_id = ?`,
		externalID,
	)

	var (
		id           string
		createdAt    int64
		primAccess   string
		primRefresh  string
		primExpires  int64
		secConnected int
		secUserID    sql.NullInt64
		secAccess    sql.NullString
		secRefresh   sql.NullString
		secExpires   sql.NullInt64
		studyMinutes int
		breakMinutes int
	)

	if err := row.Scan(
		&id, &createdAt, &primAccess, &primRefresh, &primExpires,
		&secConnected, &secUserID, &secAccess, &secRefresh, &secExpires,
		&studyMinutes, &breakMinutes,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, externalID)
		}
		return nil, fmt.Errorf("select account: %w", err)
	}

	items, err := s.queryTodoItems(ctx, externalID)
	if err != nil {
		return nil, err
	}

	return &storage.UserAccount{
		ExternalID: id,
		PrimaryAuth: storage.TokenPair{
			AccessToken:  primAccess,
			RefreshToken: primRefresh,
			ExpiresAt:    time.Unix(primExpires, 0).UTC(),
		},
		SecondaryAuth: storage.SecondaryAuth{
			Connected:      secConnected != 0,
			ProviderUserID: secUserID.Int64,
			AccessToken:    secAccess.String,
			RefreshToken:   secRefresh.String,
			ExpiresAt:      fromNullUnix(secExpires),
		},
		TodoItems: items,
		StudyTimer: storage.StudyTimerConfig{
			StudyMinutes: studyMinutes,
			BreakMinutes: breakMinutes,
		},
		CreatedAt: time.Unix(createdAt, 0).UTC(),
	}, nil
}

// SetPrimaryAuth replaces all three primary auth fields in a single
// statement so concurrent readers never observe a mixed pair.
func (s *Store) SetPrimaryAuth(ctx context.Context, externalID string, pair storage.TokenPair) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET primary_access_token = ?, primary_refresh_token = ?, primary_expires_at = ?
		WHERE external_id = ?`,
		pair.AccessToken, pair.RefreshToken, pair.ExpiresAt.UTC().Unix(), externalID,
	)
	if err != nil {
		return fmt.Errorf("update primary auth: %w", err)
	}
	return s.requireRow(res, externalID)
}

// SetSecondaryAuth merges the non-nil fields of update into the stored
// secondary auth and marks it connected. The SET clause is built from the
// fields actually present, so omitted fields are never touched.
func (s *Store) SetSecondaryAuth(ctx context.Context, externalID string, update storage.SecondaryAuthUpdate) error {
	sets := []string{"secondary_connected = 1"}
	args := []any{}

	if update.ProviderUserID != nil {
		sets = append(sets, "secondary_user_id = ?")
		args = append(args, *update.ProviderUserID)
	}
	if update.AccessToken != nil {
		sets = append(sets, "secondary_access_token = ?")
		args = append(args, *update.AccessToken)
	}
	if update.RefreshToken != nil {
		sets = append(sets, "secondary_refresh_token = ?")
		args = append(args, *update.RefreshToken)
	}
	if update.ExpiresAt != nil {
		sets = append(sets, "secondary_expires_at = ?")
		args = append(args, update.ExpiresAt.UTC().Unix())
	}
	args = append(args, externalID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET "+strings.Join(sets, ", ")+" WHERE external_id = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("update secondary auth: %w", err)
	}
	return s.requireRow(res, externalID)
}

// ClearSecondaryAuth disconnects the secondary provider and nulls all
// secondary fields in one statement.
func (s *Store) ClearSecondaryAuth(ctx context.Context, externalID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET secondary_connected = 0,
		    secondary_user_id = NULL,
		    secondary_access_token = NULL,
		    secondary_refresh_token = NULL,
		    secondary_expires_at = NULL
		WHERE external_id = ?`,
		externalID,
	)
	if err != nil {
		return fmt.Errorf("clear secondary auth: %w", err)
	}
	return s.requireRow(res, externalID)
}

// AddTodoItem appends an item to the account's todo list, assigning its ID
// and the next position.
func (s *Store) AddTodoItem(ctx context.Context, externalID string, item storage.TodoItem) (*storage.TodoItem, error) {
	if item.Title == "" {
		return nil, fmt.Errorf("todo item title cannot be empty")
	}

	if err := s.requireAccount(ctx, externalID); err != nil {
		return nil, err
	}

	item.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO todo_items (id, account_external_id, position, title, description, done, due_date)
		VALUES (?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM todo_items WHERE account_external_id = ?), ?, ?, ?, ?)`,
		item.ID, externalID, externalID,
		item.Title, item.Description, boolToInt(item.Done), toNullUnix(item.DueDate),
	)
	if err != nil {
		return nil, fmt.Errorf("insert todo item: %w", err)
	}

	return &item, nil
}

// RemoveTodoItem deletes the item with the given ID. Unknown IDs are a
// no-op success.
func (s *Store) RemoveTodoItem(ctx context.Context, externalID, itemID string) error {
	if err := s.requireAccount(ctx, externalID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM todo_items
		WHERE id = ? AND account_external_id = ?`,
		itemID, externalID,
	)
	if err != nil {
		return fmt.Errorf("delete todo item: %w", err)
	}
	return nil
}

// ReplaceTodoItem overwrites the item with the given ID, keeping its ID and
// position. Unknown IDs are a no-op success.
func (s *Store) ReplaceTodoItem(ctx context.Context, externalID, itemID string, item storage.TodoItem) error {
	if err := s.requireAccount(ctx, externalID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE todo_items
		SET title = ?, description = ?, done = ?, due_date = ?
		WHERE id = ? AND account_external_id = ?`,
		item.Title, item.Description, boolToInt(item.Done), toNullUnix(item.DueDate),
		itemID, externalID,
	)
	if err != nil {
		return fmt.Errorf("update todo item: %w", err)
	}
	return nil
}

// GetTodoItem returns the item with the given ID, or (nil, nil) when the
// account exists but the item does not.
func (s *Store) GetTodoItem(ctx context.Context, externalID, itemID string) (*storage.TodoItem, error) {
	if err := s.requireAccount(ctx, externalID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, done, due_date
		FROM todo_items
		WHERE id = ? AND account_external_id = ?`,
		itemID, externalID,
	)

	item, err := scanTodoItem(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select todo item: %w", err)
	}
	return item, nil
}

// GetTodoList returns the account's todo items in display order.
func (s *Store) GetTodoList(ctx context.Context, externalID string) ([]storage.TodoItem, error) {
	if err := s.requireAccount(ctx, externalID); err != nil {
		return nil, err
	}
	return s.queryTodoItems(ctx, externalID)
}

// ClearTodoItems removes all todo items from the account.
func (s *Store) ClearTodoItems(ctx context.Context, externalID string) error {
	if err := s.requireAccount(ctx, externalID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM todo_items
		WHERE account_external_id = ?`,
		externalID,
	)
	if err != nil {
		return fmt.Errorf("clear todo items: %w", err)
	}
	return nil
}

// SetStudyTimer replaces the account's study timer wholesale.
func (s *Store) SetStudyTimer(ctx context.Context, externalID string, config storage.StudyTimerConfig) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET study_minutes = ?, break_minutes = ?
		WHERE external_id = ?`,
		config.StudyMinutes, config.BreakMinutes, externalID,
	)
	if err != nil {
		return fmt.Errorf("update study timer: %w", err)
	}
	return s.requireRow(res, externalID)
}

// GetStudyTimer returns the account's study timer.
func (s *Store) GetStudyTimer(ctx context.Context, externalID string) (*storage.StudyTimerConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT study_minutes, break_minutes
		FROM accounts
		WHERE external_id = ?`,
		externalID,
	)

	var config storage.StudyTimerConfig
	if err := row.Scan(&config.StudyMinutes, &config.BreakMinutes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, externalID)
		}
		return nil, fmt.Errorf("select study timer: %w", err)
	}
	return &config, nil
}

// queryTodoItems loads an account's todo items ordered by position.
func (s *Store) queryTodoItems(ctx context.Context, externalID string) ([]storage.TodoItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, done, due_date
		FROM todo_items
		WHERE account_external_id = ?
		ORDER BY position ASC`,
		externalID,
	)
	if err != nil {
		return nil, fmt.Errorf("select todo items: %w", err)
	}
	defer rows.Close()

	items := []storage.TodoItem{}
	for rows.Next() {
		item, err := scanTodoItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan todo item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanTodoItem(scan func(...any) error) (*storage.TodoItem, error) {
	var (
		item    storage.TodoItem
		doneInt int
		dueNS   sql.NullInt64
	)
	if err := scan(&item.ID, &item.Title, &item.Description, &doneInt, &dueNS); err != nil {
		return nil, err
	}
	item.Done = doneInt != 0
	if dueNS.Valid {
		due := time.Unix(dueNS.Int64, 0).UTC()
		item.DueDate = &due
	}
	return &item, nil
}

// requireAccount returns ErrNotFound when no account exists for externalID.
func (s *Store) requireAccount(ctx context.Context, externalID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM accounts WHERE external_id = ?", externalID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, externalID)
	}
	if err != nil {
		return fmt.Errorf("select account: %w", err)
	}
	return nil
}

// requireRow maps a zero-row UPDATE onto ErrNotFound.
func (s *Store) requireRow(res sql.Result, externalID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, externalID)
	}
	return nil
}

func fromNullUnix(ns sql.NullInt64) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	return time.Unix(ns.Int64, 0).UTC()
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().Unix(), Valid: true}
}

// boolToInt converts a boolean to 1/0 for SQLite.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

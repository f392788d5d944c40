package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/studybot-it/studybot/instrumentation"
	"github.com/studybot-it/studybot/storage"
)

// Store is an in-memory implementation of storage.UserStore.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*storage.UserAccount

	// Atomic counter for metrics (lock-free access during metric collection)
	accountsCountAtomic atomic.Int64

	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// Compile-time interface check.
var _ storage.UserStore = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*storage.UserAccount),
		logger:   slog.Default(),
	}
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.metrics = inst.Metrics()
	s.accountsCountAtomic.Store(int64(len(s.accounts)))
	s.mu.Unlock()

	if err := s.metrics.RegisterAccountsCallback(s.accountsCountAtomic.Load); err != nil {
		s.logger.Warn("Failed to register accounts callback", "error", err)
	}
}

// record emits storage operation metrics when instrumentation is configured.
func (s *Store) record(ctx context.Context, op string, err error, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStorageOperation(ctx, op, err, start)
	}
}

// CreateAccount creates a new aggregate for externalID.
func (s *Store) CreateAccount(ctx context.Context, externalID string, primary storage.TokenPair) (acct *storage.UserAccount, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "create_account", err, start) }()

	if externalID == "" {
		err = fmt.Errorf("externalID cannot be empty")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[externalID]; exists {
		err = fmt.Errorf("%w: %s", storage.ErrConflict, externalID)
		return nil, err
	}

	account := &storage.UserAccount{
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
		CreatedAt: time.Now(),
	}

	s.accounts[externalID] = account
	s.accountsCountAtomic.Add(1)
	s.logger.Debug("Created account", "external_id", externalID)

	return cloneAccount(account), nil
}

// GetAccount retrieves the full aggregate.
func (s *Store) GetAccount(ctx context.Context, externalID string) (acct *storage.UserAccount, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "get_account", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[externalID]
	if !exists {
		err = fmt.Errorf("%w: %s", storage.ErrNotFound, externalID)
		return nil, err
	}

	return cloneAccount(account), nil
}

// mutate looks up an account under the write lock and applies fn to it.
func (s *Store) mutate(externalID string, fn func(*storage.UserAccount) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[externalID]
	if !exists {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, externalID)
	}

	return fn(account)
}

// SetPrimaryAuth replaces all three primary auth fields as a unit.
func (s *Store) SetPrimaryAuth(ctx context.Context, externalID string, pair storage.TokenPair) (err error) {
	start := time.Now()
	defer func() { s.record(ctx, "set_primary_auth", err, start) }()

	err = s.mutate(externalID, func(account *storage.UserAccount) error {
		account.PrimaryAuth = pair
		s.logger.Debug("Set primary auth", "external_id", externalID)
		return nil
	})
	return err
}

// SetSecondaryAuth merges the non-nil fields of update into the stored
// secondary auth and marks it connected. Nil fields are left untouched, so a
// refresh response that omitted the rotated refresh token or the user ID
// never clears the stored value.
func (s *Store) SetSecondaryAuth(ctx context.Context, externalID string, update storage.SecondaryAuthUpdate) (err error) {
	start := time.Now()
	defer func() { s.record(ctx, "set_secondary_auth", err, start) }()

	err = s.mutate(externalID, func(account *storage.UserAccount) error {
		account.SecondaryAuth.Connected = true
		if update.ProviderUserID != nil {
			account.SecondaryAuth.ProviderUserID = *update.ProviderUserID
		}
		if update.AccessToken != nil {
			account.SecondaryAuth.AccessToken = *update.AccessToken
		}
		if update.RefreshToken != nil {
			account.SecondaryAuth.RefreshToken = *update.RefreshToken
		}
		if update.ExpiresAt != nil {
			account.SecondaryAuth.ExpiresAt = *update.ExpiresAt
		}
		s.logger.Debug("Set secondary auth", "external_id", externalID)
		return nil
	})
	return err
}

// ClearSecondaryAuth atomically disconnects the secondary provider and
// zeroes all secondary token fields together.
func (s *Store) ClearSecondaryAuth(ctx context.Context, externalID string) (err error) {
	start := time.Now()
	defer func() { s.record(ctx, "clear_secondary_auth", err, start) }()

	err = s.mutate(externalID, func(account *storage.UserAccount) error {
		account.SecondaryAuth = storage.SecondaryAuth{Connected: false}
		s.logger.Debug("Cleared secondary auth", "external_id", externalID)
		return nil
	})
	return err
}

// AddTodoItem appends an item to the account's todo list, assigning its ID.
func (s *Store) AddTodoItem(ctx context.Context, externalID string, item storage.TodoItem) (added *storage.TodoItem, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "add_todo_item", err, start) }()

	if item.Title == "" {
		err = fmt.Errorf("todo item title cannot be empty")
		return nil, err
	}

	err = s.mutate(externalID, func(account *storage.UserAccount) error {
		item.ID = uuid.NewString()
		account.TodoItems = append(account.TodoItems, cloneTodoItem(item))
		added = &item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// RemoveTodoItem deletes the item with the given ID. Unknown IDs are a
// no-op success.
func (s *Store) RemoveTodoItem(ctx context.Context, externalID, itemID string) (err error) {
	start := time.Now()
	defer func() { s.record(ctx, "remove_todo_item", err, start) }()

	err = s.mutate(externalID, func(account *storage.UserAccount) error {
		for i, existing := range account.TodoItems {
			if existing.ID == itemID {
				account.TodoItems = append(account.TodoItems[:i], account.TodoItems[i+1:]...)
				return nil
			}
		}
		return nil
	})
	return err
}

// ReplaceTodoItem overwrites the item with the given ID, keeping its ID and
// position. Unknown IDs are a no-op success.
func (s *Store) ReplaceTodoItem(ctx context.Context, externalID, itemID string, item storage.TodoItem) (err error) {
	start := time.Now()
	defer func() { s.record(ctx, "replace_todo_item", err, start) }()

	err = s.mutate(externalID, func(account *storage.UserAccount) error {
		for i, existing := range account.TodoItems {
			if existing.ID == itemID {
				item.ID = itemID
				account.TodoItems[i] = cloneTodoItem(item)
				return nil
			}
		}
		return nil
	})
	return err
}

// GetTodoItem returns the item with the given ID, or (nil, nil) when the
// account exists but the item does not.
func (s *Store) GetTodoItem(ctx context.Context, externalID, itemID string) (item *storage.TodoItem, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "get_todo_item", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[externalID]
	if !exists {
		err = fmt.Errorf("%w: %s", storage.ErrNotFound, externalID)
		return nil, err
	}

	for _, existing := range account.TodoItems {
		if existing.ID == itemID {
			copied := cloneTodoItem(existing)
			return &copied, nil
		}
	}
	return nil, nil
}

// GetTodoList returns the account's todo items in display order.
func (s *Store) GetTodoList(ctx context.Context, externalID string) (items []storage.TodoItem, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "get_todo_list", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[externalID]
	if !exists {
		err = fmt.Errorf("%w: %s", storage.ErrNotFound, externalID)
		return nil, err
	}

	return cloneTodoItems(account.TodoItems), nil
}

// ClearTodoItems removes all todo items from the account.
func (s *Store) ClearTodoItems(ctx context.Context, externalID string) (err error) {
	start := time.Now()
	defer func() { s.record(ctx, "clear_todo_items", err, start) }()

	err = s.mutate(externalID, func(account *storage.UserAccount) error {
		account.TodoItems = []storage.TodoItem{}
		return nil
	})
	return err
}

// SetStudyTimer replaces the account's study timer wholesale.
func (s *Store) SetStudyTimer(ctx context.Context, externalID string, config storage.StudyTimerConfig) (err error) {
	start := time.Now()
	defer func() { s.record(ctx, "set_study_timer", err, start) }()

	err = s.mutate(externalID, func(account *storage.UserAccount) error {
		account.StudyTimer = config
		return nil
	})
	return err
}

// GetStudyTimer returns the account's study timer.
func (s *Store) GetStudyTimer(ctx context.Context, externalID string) (config *storage.StudyTimerConfig, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "get_study_timer", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[externalID]
	if !exists {
		err = fmt.Errorf("%w: %s", storage.ErrNotFound, externalID)
		return nil, err
	}

	timer := account.StudyTimer
	return &timer, nil
}

// cloneAccount deep-copies an aggregate so callers can never mutate stored
// state through a returned pointer.
func cloneAccount(account *storage.UserAccount) *storage.UserAccount {
	copied := *account
	copied.TodoItems = cloneTodoItems(account.TodoItems)
	return &copied
}

func cloneTodoItems(items []storage.TodoItem) []storage.TodoItem {
	copied := make([]storage.TodoItem, len(items))
	for i, item := range items {
		copied[i] = cloneTodoItem(item)
	}
	return copied
}

func cloneTodoItem(item storage.TodoItem) storage.TodoItem {
	if item.DueDate != nil {
		due := *item.DueDate
		item.DueDate = &due
	}
	return item
}

package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by UserStore implementations.
// Callers classify with errors.Is; implementations may wrap these with
// additional context using fmt.Errorf("...: %w", ...).
var (
	// ErrNotFound indicates no account exists for the given external ID.
	ErrNotFound = errors.New("account not found")

	// ErrConflict indicates an account already exists for the external ID.
	// Creation never silently overwrites an existing aggregate.
	ErrConflict = errors.New("account already exists")
)

// TokenPair holds one provider's credentials for an account. The three fields
// are written as a unit: a stored pair is never partially populated.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// SecondaryAuth holds the optional school-records provider link.
// Connected=false is a valid state with all other fields zero.
type SecondaryAuth struct {
	Connected      bool
	ProviderUserID int64
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
}

// SecondaryAuthUpdate describes a partial write to an account's secondary
// auth. Nil fields are left untouched in the stored aggregate; this is how
// refresh responses that omit a rotated refresh token or the provider-side
// user ID are merged without clearing the previously stored values.
//
// Presence is expressed with pointers rather than zero-value checks so that
// an intentionally empty value is still distinguishable from "omitted".
type SecondaryAuthUpdate struct {
	ProviderUserID *int64
	AccessToken    *string
	RefreshToken   *string
	ExpiresAt      *time.Time
}

// TodoItem is a single entry in an account's todo list. ID is assigned by
// the store and is meaningful only within the owning account.
type TodoItem struct {
	ID          string
	Title       string
	Description string
	Done        bool
	DueDate     *time.Time
}

// StudyTimerConfig is the per-account study timer. It is a value object:
// updates replace it wholesale, never merge it field by field.
type StudyTimerConfig struct {
	StudyMinutes int
	BreakMinutes int
}

// Default study timer values applied at account creation.
const (
	DefaultStudyMinutes = 25
	DefaultBreakMinutes = 5
)

// UserAccount is the aggregate root, one per external chat identity.
// TodoItems preserve insertion order; that order is the display order.
type UserAccount struct {
	ExternalID    string
	PrimaryAuth   TokenPair
	SecondaryAuth SecondaryAuth
	TodoItems     []TodoItem
	StudyTimer    StudyTimerConfig
	CreatedAt     time.Time
}

// UserStore defines the interface for durable user account state.
// All mutation is expressed as named, targeted operations so concurrent
// callers cannot clobber unrelated fields. Each operation is scoped to a
// single aggregate; no cross-account transactions are required.
// All methods accept context.Context for tracing and cancellation.
type UserStore interface {
	// CreateAccount creates a new aggregate for externalID with the given
	// primary token pair, an empty todo list, a disconnected secondary auth,
	// and the default study timer. Returns ErrConflict if the ID is taken.
	CreateAccount(ctx context.Context, externalID string, primary TokenPair) (*UserAccount, error)

	// GetAccount retrieves the full aggregate. Returns ErrNotFound if absent.
	GetAccount(ctx context.Context, externalID string) (*UserAccount, error)

	// SetPrimaryAuth replaces all three primary auth fields as a unit.
	SetPrimaryAuth(ctx context.Context, externalID string, pair TokenPair) error

	// SetSecondaryAuth merges the non-nil fields of update into the stored
	// secondary auth and marks it connected. Nil fields are left untouched.
	SetSecondaryAuth(ctx context.Context, externalID string, update SecondaryAuthUpdate) error

	// ClearSecondaryAuth atomically marks the secondary provider as not
	// connected and zeroes all secondary token fields together.
	ClearSecondaryAuth(ctx context.Context, externalID string) error

	// AddTodoItem appends an item to the account's todo list, assigning its
	// ID. The item title must be non-empty.
	AddTodoItem(ctx context.Context, externalID string, item TodoItem) (*TodoItem, error)

	// RemoveTodoItem deletes the item with the given ID. Removing an unknown
	// ID is a no-op success.
	RemoveTodoItem(ctx context.Context, externalID, itemID string) error

	// ReplaceTodoItem overwrites the item with the given ID, keeping its ID
	// and position. Replacing an unknown ID is a no-op success.
	ReplaceTodoItem(ctx context.Context, externalID, itemID string, item TodoItem) error

	// GetTodoItem returns the item with the given ID, or (nil, nil) when the
	// account exists but the item does not.
	GetTodoItem(ctx context.Context, externalID, itemID string) (*TodoItem, error)

	// GetTodoList returns the account's todo items in display order.
	GetTodoList(ctx context.Context, externalID string) ([]TodoItem, error)

	// ClearTodoItems removes all todo items from the account.
	ClearTodoItems(ctx context.Context, externalID string) error

	// SetStudyTimer replaces the account's study timer wholesale.
	SetStudyTimer(ctx context.Context, externalID string, config StudyTimerConfig) error

	// GetStudyTimer returns the account's study timer.
	GetStudyTimer(ctx context.Context, externalID string) (*StudyTimerConfig, error)
}

package studybot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/studybot-it/studybot/instrumentation"
	"github.com/studybot-it/studybot/providers"
	"github.com/studybot-it/studybot/storage"
)

// ProviderKind selects which of the two linked providers an operation
// targets.
type ProviderKind string

const (
	// KindPrimary is the chat-platform identity provider.
	KindPrimary ProviderKind = "primary"

	// KindSecondary is the school-records provider.
	KindSecondary ProviderKind = "secondary"
)

// RecordsClient extends the secondary provider client with the opaque
// school-records reads. *digreg.Client satisfies it.
type RecordsClient interface {
	providers.SecondaryClient

	// Grades fetches the user's grades as an opaque payload.
	Grades(ctx context.Context, accessToken string) (json.RawMessage, error)

	// UpcomingLessons fetches the user's lesson calendar as an opaque payload.
	UpcomingLessons(ctx context.Context, accessToken string) (json.RawMessage, error)
}

// WelcomeNotifier sends the fire-and-forget welcome message after account
// creation. *discord.Client satisfies it.
type WelcomeNotifier interface {
	CreateDM(ctx context.Context, userID string) (string, error)
	SendWelcomeMessage(ctx context.Context, channelID string) error
}

// Service is the token lifecycle coordinator. It is the only place expiry
// comparisons and refresh decisions occur; provider clients and the store
// never make staleness judgments themselves.
type Service struct {
	store     storage.UserStore
	primary   providers.PrimaryClient
	secondary RecordsClient
	welcome   WelcomeNotifier

	expiryMargin   time.Duration
	welcomeTimeout time.Duration
	logger         *slog.Logger
	metrics        *instrumentation.Metrics

	// Per-account refresh serialization. Both providers may rotate refresh
	// tokens on use, so two concurrent refreshes for one account could
	// invalidate each other without this.
	locksMu      sync.Mutex
	accountLocks map[string]*accountLock
}

// accountLock is a refcounted per-account mutex. Entries are evicted from the
// lock map once no caller holds or waits on them, so the map never grows with
// the number of accounts ever seen.
type accountLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a new Service.
func New(cfg Config, store storage.UserStore, primary providers.PrimaryClient, secondary RecordsClient) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if primary == nil {
		return nil, fmt.Errorf("primary provider client is required")
	}
	if secondary == nil {
		return nil, fmt.Errorf("secondary provider client is required")
	}

	cfg = cfg.withDefaults()

	return &Service{
		store:          store,
		primary:        primary,
		secondary:      secondary,
		expiryMargin:   cfg.ExpiryMargin,
		welcomeTimeout: cfg.WelcomeTimeout,
		logger:         cfg.Logger,
		accountLocks:   make(map[string]*accountLock),
	}, nil
}

// SetWelcomeNotifier enables the welcome message sent after account creation.
func (s *Service) SetWelcomeNotifier(n WelcomeNotifier) {
	s.welcome = n
}

// SetInstrumentation sets OpenTelemetry instrumentation for the service.
func (s *Service) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.metrics = inst.Metrics()
}

// lockAccount acquires the mutex serializing refreshes for one account.
func (s *Service) lockAccount(externalID string) *accountLock {
	s.locksMu.Lock()
	lock, ok := s.accountLocks[externalID]
	if !ok {
		lock = &accountLock{}
		s.accountLocks[externalID] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return lock
}

// unlockAccount releases the account mutex and evicts the map entry when no
// other caller references it.
func (s *Service) unlockAccount(externalID string, lock *accountLock) {
	lock.mu.Unlock()

	s.locksMu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.accountLocks, externalID)
	}
	s.locksMu.Unlock()
}

// fresh reports whether a token expiring at expiresAt is still usable,
// applying the configured safety margin.
func (s *Service) fresh(expiresAt time.Time) bool {
	return time.Until(expiresAt) > s.expiryMargin
}

// ValidToken returns a currently valid access token for the account and
// provider, transparently refreshing and persisting when the stored token is
// expired or near-expired.
//
// On a dead refresh token it returns ErrReauthorizationRequired and leaves
// the stored pair untouched. Transient provider failures propagate as
// providers.ErrProviderUnavailable; no retry happens at this layer.
func (s *Service) ValidToken(ctx context.Context, externalID string, kind ProviderKind) (string, error) {
	switch kind {
	case KindPrimary:
		return s.validPrimaryToken(ctx, externalID)
	case KindSecondary:
		return s.validSecondaryToken(ctx, externalID, false)
	default:
		return "", fmt.Errorf("unknown provider kind %q", kind)
	}
}

func (s *Service) validPrimaryToken(ctx context.Context, externalID string) (string, error) {
	lock := s.lockAccount(externalID)
	defer s.unlockAccount(externalID, lock)

	account, err := s.store.GetAccount(ctx, externalID)
	if err != nil {
		return "", err
	}

	if s.fresh(account.PrimaryAuth.ExpiresAt) {
		return account.PrimaryAuth.AccessToken, nil
	}

	tok, err := s.primary.Refresh(ctx, account.PrimaryAuth.RefreshToken)
	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(ctx, string(KindPrimary), err)
	}
	if err != nil {
		if errors.Is(err, providers.ErrInvalidGrant) {
			s.logger.Info("Primary refresh token rejected", "external_id", externalID)
			return "", fmt.Errorf("%w: %v", ErrReauthorizationRequired, err)
		}
		return "", err
	}

	pair := storage.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	}
	// An omitted refresh token means the provider did not rotate it.
	if pair.RefreshToken == "" {
		pair.RefreshToken = account.PrimaryAuth.RefreshToken
	}

	if err := s.store.SetPrimaryAuth(ctx, externalID, pair); err != nil {
		return "", fmt.Errorf("failed to persist refreshed primary auth: %w", err)
	}

	s.logger.Debug("Refreshed primary token", "external_id", externalID)
	return tok.AccessToken, nil
}

// validSecondaryToken returns a valid secondary access token. With force set
// the stored token is treated as stale regardless of its expiry; this is the
// path taken when a data endpoint rejected a not-yet-expired token.
func (s *Service) validSecondaryToken(ctx context.Context, externalID string, force bool) (string, error) {
	lock := s.lockAccount(externalID)
	defer s.unlockAccount(externalID, lock)

	account, err := s.store.GetAccount(ctx, externalID)
	if err != nil {
		return "", err
	}

	sec := account.SecondaryAuth
	if !sec.Connected {
		return "", fmt.Errorf("%w: account %s", ErrNotConnected, externalID)
	}

	if !force && s.fresh(sec.ExpiresAt) {
		return sec.AccessToken, nil
	}

	tok, err := s.secondary.Refresh(ctx, sec.RefreshToken, sec.ProviderUserID)
	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(ctx, string(KindSecondary), err)
	}
	if err != nil {
		if errors.Is(err, providers.ErrInvalidGrant) {
			s.logger.Info("Secondary refresh token rejected", "external_id", externalID)
			return "", fmt.Errorf("%w: %v", ErrReauthorizationRequired, err)
		}
		return "", err
	}

	update := storage.SecondaryAuthUpdate{
		AccessToken: &tok.AccessToken,
		ExpiresAt:   &tok.ExpiresAt,
	}
	// Omitted fields mean "unchanged", never "clear": the stored refresh
	// token and provider-side user ID survive a partial response.
	if tok.RefreshToken != "" {
		update.RefreshToken = &tok.RefreshToken
	}
	if tok.ProviderUserID != 0 {
		update.ProviderUserID = &tok.ProviderUserID
	}

	if err := s.store.SetSecondaryAuth(ctx, externalID, update); err != nil {
		return "", fmt.Errorf("failed to persist refreshed secondary auth: %w", err)
	}

	s.logger.Debug("Refreshed secondary token", "external_id", externalID)
	return tok.AccessToken, nil
}

// RegisterAccount exchanges a primary authorization code, resolves the
// identity behind it, and creates the account. The welcome message is
// dispatched asynchronously and can never fail or delay the creation.
func (s *Service) RegisterAccount(ctx context.Context, code string) (*storage.UserAccount, error) {
	tok, err := s.primary.ExchangeCode(ctx, code)
	if s.metrics != nil {
		s.metrics.RecordCodeExchange(ctx, string(KindPrimary), err)
	}
	if err != nil {
		return nil, err
	}

	profile, err := s.primary.FetchProfile(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	account, err := s.store.CreateAccount(ctx, profile.ID, storage.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Registered account", "external_id", profile.ID)
	s.dispatchWelcome(profile.ID)

	return account, nil
}

// dispatchWelcome sends the welcome message in the background, log-and-drop.
func (s *Service) dispatchWelcome(externalID string) {
	if s.welcome == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.welcomeTimeout)
		defer cancel()

		channelID, err := s.welcome.CreateDM(ctx, externalID)
		if err != nil {
			s.logger.Warn("Failed to open welcome DM", "external_id", externalID, "error", err)
			return
		}
		if err := s.welcome.SendWelcomeMessage(ctx, channelID); err != nil {
			s.logger.Warn("Failed to send welcome message", "external_id", externalID, "error", err)
		}
	}()
}

// ConnectSecondary exchanges a secondary authorization code and links the
// school-records provider to the account.
func (s *Service) ConnectSecondary(ctx context.Context, externalID, code string) error {
	tok, err := s.secondary.ExchangeCode(ctx, code)
	if s.metrics != nil {
		s.metrics.RecordCodeExchange(ctx, string(KindSecondary), err)
	}
	if err != nil {
		return err
	}

	update := storage.SecondaryAuthUpdate{
		AccessToken: &tok.AccessToken,
		ExpiresAt:   &tok.ExpiresAt,
	}
	if tok.RefreshToken != "" {
		update.RefreshToken = &tok.RefreshToken
	}
	if tok.ProviderUserID != 0 {
		update.ProviderUserID = &tok.ProviderUserID
	}

	if err := s.store.SetSecondaryAuth(ctx, externalID, update); err != nil {
		return err
	}

	s.logger.Info("Linked secondary provider", "external_id", externalID)
	return nil
}

// DisconnectSecondary unlinks the school-records provider, clearing all
// secondary credentials atomically.
func (s *Service) DisconnectSecondary(ctx context.Context, externalID string) error {
	if err := s.store.ClearSecondaryAuth(ctx, externalID); err != nil {
		return err
	}
	s.logger.Info("Unlinked secondary provider", "external_id", externalID)
	return nil
}

// Grades fetches the account's grades from the school-records provider.
// The payload passes through opaquely.
func (s *Service) Grades(ctx context.Context, externalID string) (json.RawMessage, error) {
	return s.fetchRecords(ctx, externalID, s.secondary.Grades)
}

// UpcomingLessons fetches the account's lesson calendar from the
// school-records provider. The payload passes through opaquely.
func (s *Service) UpcomingLessons(ctx context.Context, externalID string) (json.RawMessage, error) {
	return s.fetchRecords(ctx, externalID, s.secondary.UpcomingLessons)
}

// fetchRecords performs an authenticated records read. A rejected access
// token outside the normal expiry path is treated like an expired one: one
// forced refresh, then a single retry.
func (s *Service) fetchRecords(ctx context.Context, externalID string, fetch func(context.Context, string) (json.RawMessage, error)) (json.RawMessage, error) {
	token, err := s.validSecondaryToken(ctx, externalID, false)
	if err != nil {
		return nil, err
	}

	data, err := fetch(ctx, token)
	if err == nil || !errors.Is(err, providers.ErrUnauthorized) {
		return data, err
	}

	s.logger.Debug("Access token rejected, forcing refresh", "external_id", externalID)
	token, err = s.validSecondaryToken(ctx, externalID, true)
	if err != nil {
		return nil, err
	}

	return fetch(ctx, token)
}

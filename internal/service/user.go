// Package service provides business logic for the application.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/repository"
)

// Service errors.
var (
	ErrAlreadyExists      = errors.New("email already registered")
	ErrForbidden          = errors.New("bootstrap key missing or incorrect")
	ErrUnauthenticated    = errors.New("invalid or expired API key")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrUserNotFound       = errors.New("user not found")
)

// UserStore is the persistence the user service needs.
// *repository.Repository satisfies it.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListActiveUsers(ctx context.Context) ([]*model.User, error)
	InvalidateUser(ctx context.Context, email string) (*model.User, error)
	ReplaceKey(ctx context.Context, email, hashedAPIKey string, expiresAt time.Time) (*model.User, error)
}

// AuthCache remembers keys that already passed a full verification.
// *cache.Cache satisfies it.
type AuthCache interface {
	GetUser(ctx context.Context, cacheKey string) (*model.User, error)
	SetUser(ctx context.Context, cacheKey string, user *model.User, ttl time.Duration) error
	InvalidateUser(ctx context.Context, userID int64) error
}

// UserServiceConfig configures a UserService.
type UserServiceConfig struct {
	// BootstrapKey gates registration. An empty key rejects every registration.
	BootstrapKey string
	// KeyTTL is added to the issue time to compute key expiry.
	KeyTTL time.Duration
	// Hasher hashes newly issued keys. Defaults to bcrypt.
	Hasher auth.Hasher
	// Cache is optional; nil disables auth caching.
	Cache    AuthCache
	CacheTTL time.Duration

	Metrics metrics.Recorder
	Logger  *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// UserService handles registration, authentication and key lifecycle.
type UserService struct {
	store        UserStore
	bootstrapKey []byte
	keyTTL       time.Duration
	hasher       auth.Hasher
	cache        AuthCache
	cacheTTL     time.Duration
	metrics      metrics.Recorder
	logger       *slog.Logger
	now          func() time.Time
}

// NewUserService creates a new UserService.
func NewUserService(store UserStore, cfg UserServiceConfig) *UserService {
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = model.DefaultKeyTTL
	}
	if cfg.Hasher == nil {
		cfg.Hasher = auth.NewBcryptHasher(auth.DefaultBcryptCost)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &UserService{
		store:        store,
		bootstrapKey: []byte(cfg.BootstrapKey),
		keyTTL:       cfg.KeyTTL,
		hasher:       cfg.Hasher,
		cache:        cfg.Cache,
		cacheTTL:     cfg.CacheTTL,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
}

// Register creates a user for email and issues its API key.
// The plaintext key is returned exactly once and never stored.
func (s *UserService) Register(ctx context.Context, email, bootstrapKey string) (string, *model.User, error) {
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return "", nil, err
	}

	if !s.bootstrapKeyMatches(bootstrapKey) {
		s.metrics.IncRegistration(metrics.RegistrationForbidden)
		return "", nil, ErrForbidden
	}

	return s.create(ctx, email)
}

// Provision creates a user without a bootstrap key. It backs operator
// tooling that already holds database credentials.
func (s *UserService) Provision(ctx context.Context, email string) (string, *model.User, error) {
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return "", nil, err
	}
	return s.create(ctx, email)
}

func (s *UserService) ensureEmailFree(ctx context.Context, email string) error {
	_, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		s.metrics.IncRegistration(metrics.RegistrationExists)
		return ErrAlreadyExists
	case !errors.Is(err, repository.ErrUserNotFound):
		s.metrics.IncRegistration(metrics.RegistrationError)
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// create issues a key and persists the user. The store's unique constraint
// settles races between concurrent registrations of the same email.
func (s *UserService) create(ctx context.Context, email string) (string, *model.User, error) {
	issued, err := auth.Issue(s.hasher)
	if err != nil {
		s.metrics.IncRegistration(metrics.RegistrationError)
		return "", nil, fmt.Errorf("failed to issue key: %w", err)
	}

	now := s.timestamp()
	user := &model.User{
		Email:        email,
		HashedAPIKey: issued.Hash,
		CreatedAt:    now,
		KeyExpiresAt: now.Add(s.keyTTL),
		IsValid:      true,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			s.metrics.IncRegistration(metrics.RegistrationExists)
			return "", nil, ErrAlreadyExists
		}
		s.metrics.IncRegistration(metrics.RegistrationError)
		return "", nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	s.metrics.IncRegistration(metrics.RegistrationCreated)
	return issued.Plaintext, user, nil
}

// Authenticate returns the active, unexpired user whose key hash matches apiKey.
//
// Every active user is checked in id order and the first hash match decides
// the outcome. An expired match fails with ErrUnauthenticated, the same error
// as an unknown key. Store failures are reported as ErrStorageUnavailable.
func (s *UserService) Authenticate(ctx context.Context, apiKey string) (*model.User, error) {
	if apiKey == "" {
		s.metrics.IncAuthentication(metrics.AuthUnauthenticated)
		return nil, ErrUnauthenticated
	}

	now := s.now()

	var cacheKey string
	if s.cache != nil {
		cacheKey = auth.QuickHash(apiKey)
		if user := s.cachedUser(ctx, cacheKey, now); user != nil {
			s.metrics.IncAuthCacheHit()
			s.metrics.IncAuthentication(metrics.AuthSuccess)
			return user, nil
		}
	}

	start := time.Now()
	candidates, err := s.store.ListActiveUsers(ctx)
	if err != nil {
		s.metrics.IncAuthentication(metrics.AuthError)
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	for i, user := range candidates {
		if !auth.VerifySecret(apiKey, user.HashedAPIKey) {
			continue
		}
		s.metrics.ObserveAuthScan(i+1, time.Since(start))

		if user.IsExpired(now) {
			s.logger.Info("authentication rejected",
				slog.String("reason", "key_expired"),
				slog.Int64("user_id", user.ID),
			)
			s.metrics.IncAuthentication(metrics.AuthUnauthenticated)
			return nil, ErrUnauthenticated
		}

		if s.cache != nil {
			s.storeCachedUser(ctx, cacheKey, user, now)
		}

		s.metrics.IncAuthentication(metrics.AuthSuccess)
		return user, nil
	}

	s.metrics.ObserveAuthScan(len(candidates), time.Since(start))
	s.metrics.IncAuthentication(metrics.AuthUnauthenticated)
	return nil, ErrUnauthenticated
}

// Lookup returns the user registered under email.
func (s *UserService) Lookup(ctx context.Context, email string) (*model.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, s.mapLookupError(err)
	}
	return user, nil
}

// Revoke marks the user's key invalid and drops any cached authentication.
func (s *UserService) Revoke(ctx context.Context, email string) (*model.User, error) {
	user, err := s.store.InvalidateUser(ctx, email)
	if err != nil {
		return nil, s.mapLookupError(err)
	}

	if err := s.purgeCache(ctx, user.ID); err != nil {
		return user, err
	}
	return user, nil
}

// Renew issues a replacement key for an existing user, restoring validity
// and resetting the expiry. The previous key stops working immediately.
func (s *UserService) Renew(ctx context.Context, email string) (string, *model.User, error) {
	issued, err := auth.Issue(s.hasher)
	if err != nil {
		return "", nil, fmt.Errorf("failed to issue key: %w", err)
	}

	user, err := s.store.ReplaceKey(ctx, email, issued.Hash, s.timestamp().Add(s.keyTTL))
	if err != nil {
		return "", nil, s.mapLookupError(err)
	}

	if err := s.purgeCache(ctx, user.ID); err != nil {
		return "", nil, err
	}
	return issued.Plaintext, user, nil
}

func (s *UserService) bootstrapKeyMatches(presented string) bool {
	if presented == "" || len(s.bootstrapKey) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), s.bootstrapKey) == 1
}

// timestamp returns now at the precision PostgreSQL stores.
func (s *UserService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *UserService) mapLookupError(err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrUserNotFound
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

func (s *UserService) cachedUser(ctx context.Context, cacheKey string, now time.Time) *model.User {
	user, err := s.cache.GetUser(ctx, cacheKey)
	if err != nil {
		s.logger.Warn("auth cache read failed", slog.String("error", err.Error()))
		return nil
	}
	if user == nil || !user.IsUsable(now) {
		return nil
	}
	return user
}

func (s *UserService) storeCachedUser(ctx context.Context, cacheKey string, user *model.User, now time.Time) {
	ttl := s.cacheTTL
	if untilExpiry := user.KeyExpiresAt.Sub(now); untilExpiry < ttl {
		ttl = untilExpiry
	}
	if err := s.cache.SetUser(ctx, cacheKey, user, ttl); err != nil {
		s.logger.Warn("auth cache write failed", slog.String("error", err.Error()))
		return
	}

	// A revoke or renew that committed after the scan read the user may have
	// purged the cache before the entry above was written. Re-read the row and
	// drop the entry unless it still describes the current key.
	current, err := s.store.GetUserByID(ctx, user.ID)
	if err == nil && current.IsUsable(now) && current.HashedAPIKey == user.HashedAPIKey {
		return
	}
	if err := s.cache.InvalidateUser(ctx, user.ID); err != nil {
		s.logger.Warn("auth cache purge failed",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *UserService) purgeCache(ctx context.Context, userID int64) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to purge cached authentication: %w", err)
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/repository"
	"github.com/keygate/keygate/internal/service"
)

type stubOperator struct {
	users map[string]*model.User
}

func (s *stubOperator) Provision(_ context.Context, email string) (string, *model.User, error) {
	if _, ok := s.users[email]; ok {
		return "", nil, service.ErrAlreadyExists
	}
	u := &model.User{ID: int64(len(s.users) + 1), Email: email, IsValid: true, KeyExpiresAt: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.users[email] = u
	return "new-key-" + email, u, nil
}

func (s *stubOperator) Revoke(_ context.Context, email string) (*model.User, error) {
	u, ok := s.users[email]
	if !ok {
		return nil, service.ErrUserNotFound
	}
	u.IsValid = false
	return u, nil
}

func (s *stubOperator) Renew(_ context.Context, email string) (string, *model.User, error) {
	u, ok := s.users[email]
	if !ok {
		return "", nil, service.ErrUserNotFound
	}
	u.IsValid = true
	return "renewed-key", u, nil
}

func (s *stubOperator) Lookup(_ context.Context, email string) (*model.User, error) {
	u, ok := s.users[email]
	if !ok {
		return nil, service.ErrUserNotFound
	}
	return u, nil
}

func withStubOperator(t *testing.T) *stubOperator {
	t.Helper()

	stub := &stubOperator{users: make(map[string]*model.User)}
	orig := openOperator
	openOperator = func(context.Context, connectOptions) (operator, func(), error) {
		return stub, func() {}, nil
	}
	t.Cleanup(func() { openOperator = orig })
	return stub
}

func runCmd(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Register(t *testing.T) {
	withStubOperator(t)

	code, out, errOut := runCmd("register", "-database-url", "postgres://x", "-email", "ops@example.com")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %s", code, errOut)
	}
	if strings.TrimSpace(out) != "new-key-ops@example.com" {
		t.Errorf("stdout = %q", out)
	}

	code, _, _ = runCmd("register", "-database-url", "postgres://x", "-email", "ops@example.com")
	if code != 3 {
		t.Errorf("duplicate exit code = %d, want 3", code)
	}
}

func TestRun_JSONOutput(t *testing.T) {
	withStubOperator(t)

	if code, _, errOut := runCmd("register", "-database-url", "postgres://x", "-email", "a@example.com"); code != 0 {
		t.Fatalf("register failed: %s", errOut)
	}

	code, out, errOut := runCmd("renew", "-database-url", "postgres://x", "-email", "a@example.com", "-format", "json")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %s", code, errOut)
	}

	var got output
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if got.APIKey != "renewed-key" || got.Email != "a@example.com" || got.Message != model.KeyIssuedMessage {
		t.Errorf("unexpected output: %+v", got)
	}
}

func TestRun_RevokeAndShow(t *testing.T) {
	withStubOperator(t)

	runCmd("register", "-database-url", "postgres://x", "-email", "b@example.com")

	if code, _, errOut := runCmd("revoke", "-database-url", "postgres://x", "-email", "b@example.com"); code != 0 {
		t.Fatalf("revoke failed: %s", errOut)
	}

	code, out, _ := runCmd("show", "-database-url", "postgres://x", "-email", "b@example.com")
	if code != 0 {
		t.Fatalf("show exit code = %d", code)
	}
	if !strings.Contains(out, "valid=false") || strings.Contains(out, "new-key") {
		t.Errorf("unexpected show output: %q", out)
	}

	if code, _, _ := runCmd("show", "-database-url", "postgres://x", "-email", "missing@example.com"); code != 3 {
		t.Errorf("missing user exit code = %d, want 3", code)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	withStubOperator(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no command", nil, 2},
		{"unknown command", []string{"frobnicate"}, 2},
		{"missing email", []string{"show", "-database-url", "postgres://x"}, 2},
		{"bad format", []string{"show", "-database-url", "postgres://x", "-email", "a@b.c", "-format", "xml"}, 2},
		{"bad migrate direction", []string{"migrate", "-database-url", "postgres://x", "sideways"}, 2},
		{"help", []string{"help"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCmd(tt.args...); code != tt.want {
				t.Errorf("exit code = %d, want %d", code, tt.want)
			}
		})
	}
}

// memStore is an in-memory service.UserStore shared by the API-side service
// and keyctl in the cache tests below.
type memStore struct {
	mu    sync.Mutex
	users []*model.User
}

func (m *memStore) find(match func(*model.User) bool) (*model.User, error) {
	for _, u := range m.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *memStore) CreateUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrEmailExists
		}
	}
	user.ID = int64(len(m.users) + 1)
	c := *user
	m.users = append(m.users, &c)
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(u *model.User) bool { return u.ID == id })
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(u *model.User) bool { return u.Email == email })
}

func (m *memStore) ListActiveUsers(_ context.Context) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.User
	for _, u := range m.users {
		if u.IsValid {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memStore) InvalidateUser(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			u.IsValid = false
		}
	}
	return m.find(func(u *model.User) bool { return u.Email == email })
}

func (m *memStore) ReplaceKey(_ context.Context, email, hash string, expiresAt time.Time) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			u.HashedAPIKey = hash
			u.KeyExpiresAt = expiresAt
			u.IsValid = true
		}
	}
	return m.find(func(u *model.User) bool { return u.Email == email })
}

// memCache is an in-memory service.AuthCache standing in for Redis.
type memCache struct {
	mu      sync.Mutex
	entries map[string]*model.User
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*model.User)}
}

func (c *memCache) GetUser(_ context.Context, key string) (*model.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (c *memCache) SetUser(_ context.Context, key string, user *model.User, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *user
	cp.HashedAPIKey = ""
	c.entries[key] = &cp
	return nil
}

func (c *memCache) InvalidateUser(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, u := range c.entries {
		if u.ID == userID {
			delete(c.entries, k)
		}
	}
	return nil
}

// withSharedBackends points keyctl at store, attaching authCache only when a
// Redis URL is configured, the way openOperator does.
func withSharedBackends(t *testing.T, store *memStore, authCache *memCache) *[]connectOptions {
	t.Helper()

	var seen []connectOptions
	orig := openOperator
	openOperator = func(_ context.Context, opts connectOptions) (operator, func(), error) {
		seen = append(seen, opts)
		hasher := auth.NewBcryptHasher(bcrypt.MinCost)
		if opts.RedisURL == "" {
			return newOperator(store, nil, hasher), func() {}, nil
		}
		return newOperator(store, authCache, hasher), func() {}, nil
	}
	t.Cleanup(func() { openOperator = orig })
	return &seen
}

func TestRun_RevokeAndRenewPurgeAuthCache(t *testing.T) {
	for _, cmd := range []string{"revoke", "renew"} {
		t.Run(cmd, func(t *testing.T) {
			store := &memStore{}
			authCache := newMemCache()
			seen := withSharedBackends(t, store, authCache)

			api := service.NewUserService(store, service.UserServiceConfig{
				BootstrapKey: "bootstrap",
				Hasher:       auth.NewBcryptHasher(bcrypt.MinCost),
				Cache:        authCache,
				CacheTTL:     time.Hour,
			})
			ctx := context.Background()

			key, _, err := api.Register(ctx, "alice@example.com", "bootstrap")
			if err != nil {
				t.Fatalf("Register failed: %v", err)
			}
			if _, err := api.Authenticate(ctx, key); err != nil {
				t.Fatalf("Authenticate failed: %v", err)
			}
			if len(authCache.entries) != 1 {
				t.Fatalf("expected the key to be cached, got %d entries", len(authCache.entries))
			}

			code, _, errOut := runCmd(cmd, "-database-url", "postgres://x", "-redis-url", "redis://cache:6379/0", "-email", "alice@example.com")
			if code != 0 {
				t.Fatalf("%s exit code = %d, stderr %s", cmd, code, errOut)
			}
			if got := (*seen)[0].RedisURL; got != "redis://cache:6379/0" {
				t.Errorf("RedisURL = %q, want the -redis-url value", got)
			}

			if len(authCache.entries) != 0 {
				t.Errorf("cache still holds %d entries after %s", len(authCache.entries), cmd)
			}
			if _, err := api.Authenticate(ctx, key); !errors.Is(err, service.ErrUnauthenticated) {
				t.Errorf("old key after %s: error = %v, want ErrUnauthenticated", cmd, err)
			}
		})
	}
}

func TestRun_RedisURLFromEnv(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://env:6379/0")

	seen := withSharedBackends(t, &memStore{}, newMemCache())

	runCmd("show", "-database-url", "postgres://x", "-email", "nobody@example.com")
	if len(*seen) != 1 || (*seen)[0].RedisURL != "redis://env:6379/0" {
		t.Errorf("connect options = %+v, want RedisURL from REDIS_URL", *seen)
	}
}

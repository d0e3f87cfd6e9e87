package service

import (
	"context"
	"sync"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/repository"
)

// fakeStore is an in-memory UserStore that enforces email uniqueness.
type fakeStore struct {
	mu     sync.Mutex
	users  []*model.User
	nextID int64

	getErr    error
	createErr error
	listErr   error
	listCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1}
}

func (f *fakeStore) CreateUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}
	for _, u := range f.users {
		if u.Email == user.Email {
			return repository.ErrEmailExists
		}
	}

	user.ID = f.nextID
	f.nextID++
	stored := *user
	f.users = append(f.users, &stored)
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeStore) ListActiveUsers(_ context.Context) ([]*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*model.User
	for _, u := range f.users {
		if u.IsValid {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeStore) InvalidateUser(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Email == email {
			u.IsValid = false
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeStore) ReplaceKey(_ context.Context, email, hash string, expiresAt time.Time) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Email == email {
			u.HashedAPIKey = hash
			u.KeyExpiresAt = expiresAt
			u.IsValid = true
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

// insert stores a user directly, bypassing registration.
func (f *fakeStore) insert(user *model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user.ID = f.nextID
	f.nextID++
	f.users = append(f.users, user)
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

type cachedEntry struct {
	user *model.User
	ttl  time.Duration
}

// fakeCache is an in-memory AuthCache.
type fakeCache struct {
	mu          sync.Mutex
	entries     map[string]cachedEntry
	invalidated []int64
	getErr      error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]cachedEntry)}
}

func (c *fakeCache) GetUser(_ context.Context, key string) (*model.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.getErr != nil {
		return nil, c.getErr
	}
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	u := *e.user
	return &u, nil
}

func (c *fakeCache) SetUser(_ context.Context, key string, user *model.User, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := *user
	u.HashedAPIKey = ""
	c.entries[key] = cachedEntry{user: &u, ttl: ttl}
	return nil
}

func (c *fakeCache) InvalidateUser(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidated = append(c.invalidated, userID)
	for k, e := range c.entries {
		if e.user.ID == userID {
			delete(c.entries, k)
		}
	}
	return nil
}

// Package grant stores per (account, client) consent records.
package grant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zix99/simple-auth/pkg/scope"
)

var ErrNotFound = errors.New("grant not found")

// Repository persists grants. UpsertGrant merges the given scopes into any
// existing grant atomically.
type Repository interface {
	GetGrant(ctx context.Context, accountID, clientID string) (*Grant, error)
	UpsertGrant(ctx context.Context, accountID, clientID string, scopes scope.Set) (*Grant, error)
}

type grantKey struct {
	accountID string
	clientID  string
}

// InMemoryRepository is a Repository backed by a map
type InMemoryRepository struct {
	mutex  sync.Mutex
	grants map[grantKey]Grant
	now    func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		grants: make(map[grantKey]Grant),
		now:    time.Now,
	}
}

func (r *InMemoryRepository) GetGrant(ctx context.Context, accountID, clientID string) (*Grant, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	g, ok := r.grants[grantKey{accountID, clientID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (r *InMemoryRepository) UpsertGrant(ctx context.Context, accountID, clientID string, scopes scope.Set) (*Grant, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now().UTC()
	key := grantKey{accountID, clientID}
	g, ok := r.grants[key]
	if !ok {
		g = Grant{AccountID: accountID, ClientID: clientID, CreatedAt: now}
	}
	g.Scope = g.Scope.Union(scopes)
	g.UpdatedAt = now
	r.grants[key] = g
	return &g, nil
}

package token

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("token not found")
	// ErrChainInactive is returned by Refresh when the chain head was revoked or expired.
	ErrChainInactive = errors.New("refresh chain is no longer active")
)

// Repository persists tokens. Each mutating method is one atomic operation.
type Repository interface {
	// IssueSet stores a new token set. With revokePrior every live token of
	// the (account, client) pair of the set is revoked in the same operation.
	// Returns the number of tokens revoked.
	IssueSet(ctx context.Context, tokens []*Token, revokePrior bool, now time.Time) (int, error)

	// Refresh increments the generation of the chain headed by chainID, stamps
	// it on access and stores access. With exclusive every other live token of
	// the pair, except the chain head, is revoked.
	Refresh(ctx context.Context, chainID string, access *Token, exclusive bool, now time.Time) (int, error)

	GetToken(ctx context.Context, value string) (*Token, error)

	// ListLive returns unrevoked, unexpired tokens of an account, optionally for one client.
	ListLive(ctx context.Context, accountID, clientID string, now time.Time) ([]*Token, error)

	// Revoke revokes every live token of the pair, or only the one matching
	// value. With cascade, revoking a refresh token also revokes its chain.
	Revoke(ctx context.Context, accountID, clientID, value string, cascade bool, now time.Time) (int, error)

	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// InMemoryRepository implements Repository with maps under one mutex
type InMemoryRepository struct {
	mutex   sync.Mutex
	byID    map[string]*Token
	byValue map[string]*Token
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID:    make(map[string]*Token),
		byValue: make(map[string]*Token),
	}
}

func (r *InMemoryRepository) insert(t *Token) error {
	if _, exists := r.byValue[t.Value]; exists {
		return errors.New("duplicate token value")
	}
	c := *t
	r.byID[c.ID] = &c
	r.byValue[c.Value] = &c
	return nil
}

// revokeWhere must be called with the mutex held
func (r *InMemoryRepository) revokeWhere(now time.Time, match func(*Token) bool) int {
	n := 0
	for _, t := range r.byID {
		if t.IsRevoked() || !match(t) {
			continue
		}
		revoked := now.UTC()
		t.RevokedAt = &revoked
		n++
	}
	return n
}

func (r *InMemoryRepository) IssueSet(ctx context.Context, tokens []*Token, revokePrior bool, now time.Time) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, t := range tokens {
		if _, exists := r.byValue[t.Value]; exists {
			return 0, errors.New("duplicate token value")
		}
	}

	n := 0
	if revokePrior {
		accountID, clientID := tokens[0].AccountID, tokens[0].ClientID
		n = r.revokeWhere(now, func(t *Token) bool {
			return t.AccountID == accountID && t.ClientID == clientID
		})
	}
	for _, t := range tokens {
		if err := r.insert(t); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (r *InMemoryRepository) Refresh(ctx context.Context, chainID string, access *Token, exclusive bool, now time.Time) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	head, ok := r.byID[chainID]
	if !ok || head.Kind != KindRefresh {
		return 0, ErrNotFound
	}
	if !head.IsActive(now) {
		return 0, ErrChainInactive
	}

	head.Generation++
	access.ChainID = head.ID
	access.Generation = head.Generation

	n := 0
	if exclusive {
		n = r.revokeWhere(now, func(t *Token) bool {
			return t.AccountID == head.AccountID && t.ClientID == head.ClientID && t.ID != head.ID
		})
	}
	if err := r.insert(access); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *InMemoryRepository) GetToken(ctx context.Context, value string) (*Token, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	t, ok := r.byValue[value]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *InMemoryRepository) ListLive(ctx context.Context, accountID, clientID string, now time.Time) ([]*Token, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var ret []*Token
	for _, t := range r.byID {
		if t.AccountID != accountID || (clientID != "" && t.ClientID != clientID) || !t.IsActive(now) {
			continue
		}
		c := *t
		ret = append(ret, &c)
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].IssuedAt.Equal(ret[j].IssuedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].IssuedAt.Before(ret[j].IssuedAt)
	})
	return ret, nil
}

func (r *InMemoryRepository) Revoke(ctx context.Context, accountID, clientID, value string, cascade bool, now time.Time) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if value == "" {
		return r.revokeWhere(now, func(t *Token) bool {
			return t.AccountID == accountID && t.ClientID == clientID
		}), nil
	}

	target, ok := r.byValue[value]
	if !ok || target.AccountID != accountID || target.ClientID != clientID || target.IsRevoked() {
		return 0, nil
	}
	id := target.ID
	chain := cascade && target.Kind == KindRefresh
	return r.revokeWhere(now, func(t *Token) bool {
		return t.ID == id || (chain && t.ChainID == id)
	}), nil
}

func (r *InMemoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var n int64
	for id, t := range r.byID {
		if t.IsExpired(before) {
			delete(r.byID, id)
			delete(r.byValue, t.Value)
			n++
		}
	}
	return n, nil
}

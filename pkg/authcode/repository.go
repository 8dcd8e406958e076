package authcode

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("authorization code not found")
	ErrDuplicateCode = errors.New("authorization code already exists")
)

// Repository persists authorization codes.
//
// ConsumeCode is the single-use guarantee: it marks an unconsumed, unexpired
// code consumed and reports whether this call performed the transition. Of any
// number of concurrent callers at most one sees true.
type Repository interface {
	CreateCode(ctx context.Context, code *AuthorizationCode) error
	GetCode(ctx context.Context, code string) (*AuthorizationCode, error)
	ConsumeCode(ctx context.Context, code string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// InMemoryRepository implements Repository using a map
type InMemoryRepository struct {
	mutex sync.Mutex
	codes map[string]AuthorizationCode
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{codes: make(map[string]AuthorizationCode)}
}

func (r *InMemoryRepository) CreateCode(ctx context.Context, code *AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return errors.New("authorization code cannot be empty")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.codes[code.Code]; exists {
		return ErrDuplicateCode
	}
	r.codes[code.Code] = *code
	return nil
}

func (r *InMemoryRepository) GetCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	c, ok := r.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r *InMemoryRepository) ConsumeCode(ctx context.Context, code string, now time.Time) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	c, ok := r.codes[code]
	if !ok || c.IsConsumed() || c.IsExpired(now) {
		return false, nil
	}
	consumed := now.UTC()
	c.ConsumedAt = &consumed
	r.codes[code] = c
	return true, nil
}

func (r *InMemoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var n int64
	for k, c := range r.codes {
		if c.IsExpired(before) {
			delete(r.codes, k)
			n++
		}
	}
	return n, nil
}

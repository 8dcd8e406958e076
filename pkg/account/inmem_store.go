package account

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// Config describes one account; Password may be plaintext or a bcrypt hash.
type Config struct {
	ID         string `yaml:"id"`
	Username   string `yaml:"username"`
	Email      string `yaml:"email"`
	Name       string `yaml:"name"`
	Password   string `yaml:"password"`
	TOTPSecret string `yaml:"totp_secret"`
	Disabled   bool   `yaml:"disabled"`
}

type entry struct {
	account      Account
	passwordHash []byte
	totpSecret   string
	disabled     bool
}

// InMemoryStore is a Store backed by a map
type InMemoryStore struct {
	mutex      sync.RWMutex
	accounts   map[string]*entry
	byLogin    map[string]*entry
	bcryptCost int
	now        func() time.Time
}

// NewInMemoryStore creates an empty store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts:   make(map[string]*entry),
		byLogin:    make(map[string]*entry),
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// WithBcryptCost sets the cost used when hashing plaintext passwords
func (s *InMemoryStore) WithBcryptCost(cost int) *InMemoryStore {
	s.bcryptCost = cost
	return s
}

// AddAccount registers an account. Username and email are both usable as login identifiers.
func (s *InMemoryStore) AddAccount(cfg Config) error {
	if cfg.ID == "" || cfg.Username == "" {
		return fmt.Errorf("account requires id and username")
	}
	hash := []byte(cfg.Password)
	if _, err := bcrypt.Cost(hash); err != nil {
		hash, err = bcrypt.GenerateFromPassword([]byte(cfg.Password), s.bcryptCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", cfg.Username, err)
		}
	}

	e := &entry{
		account: Account{
			ID:       cfg.ID,
			Username: cfg.Username,
			Email:    cfg.Email,
			Name:     cfg.Name,
		},
		passwordHash: hash,
		totpSecret:   cfg.TOTPSecret,
		disabled:     cfg.Disabled,
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, exists := s.accounts[cfg.ID]; exists {
		return fmt.Errorf("duplicate account id: %s", cfg.ID)
	}
	s.accounts[cfg.ID] = e
	s.byLogin[strings.ToLower(cfg.Username)] = e
	if cfg.Email != "" {
		s.byLogin[strings.ToLower(cfg.Email)] = e
	}
	return nil
}

// Authenticate checks the password and, when the account has a TOTP secret, the passcode.
func (s *InMemoryStore) Authenticate(ctx context.Context, identifier, password string, passcode *string) (*Account, error) {
	s.mutex.RLock()
	e, ok := s.byLogin[strings.ToLower(strings.TrimSpace(identifier))]
	s.mutex.RUnlock()
	if !ok || e.disabled {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(e.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if e.totpSecret != "" {
		if passcode == nil || *passcode == "" {
			return nil, fmt.Errorf("%w: totp required", ErrInvalidCredentials)
		}
		valid, err := totp.ValidateCustom(*passcode, e.totpSecret, s.now().UTC(), totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil || !valid {
			return nil, fmt.Errorf("%w: invalid totp", ErrInvalidCredentials)
		}
	}

	acc := e.account
	return &acc, nil
}

// GetAccount returns the account profile by id
func (s *InMemoryStore) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	e, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	acc := e.account
	return &acc, nil
}

package account

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

func newTestStore(t *testing.T) *InMemoryStore {
	t.Helper()
	s := NewInMemoryStore().WithBcryptCost(bcrypt.MinCost)
	require.NoError(t, s.AddAccount(Config{
		ID: "acc-1", Username: "alice", Email: "alice@example.com", Name: "Alice", Password: "pw",
	}))
	require.NoError(t, s.AddAccount(Config{
		ID: "acc-2", Username: "bob", Password: "pw2", TOTPSecret: testTOTPSecret,
	}))
	require.NoError(t, s.AddAccount(Config{
		ID: "acc-3", Username: "carol", Password: "pw3", Disabled: true,
	}))
	return s
}

func TestInMemoryStore_Authenticate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	acc, err := s.Authenticate(ctx, "alice", "pw", nil)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", acc.ID)
	assert.Equal(t, "alice@example.com", acc.Email)

	acc, err = s.Authenticate(ctx, "ALICE@example.com", "pw", nil)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", acc.ID)

	_, err = s.Authenticate(ctx, "alice", "wrong", nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "nobody", "pw", nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "carol", "pw3", nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestInMemoryStore_TOTP(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Authenticate(ctx, "bob", "pw2", nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	bad := "000000"
	code, err := totp.GenerateCode(testTOTPSecret, time.Now().UTC())
	require.NoError(t, err)
	if code == bad {
		bad = "111111"
	}
	_, err = s.Authenticate(ctx, "bob", "pw2", &bad)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	acc, err := s.Authenticate(ctx, "bob", "pw2", &code)
	require.NoError(t, err)
	assert.Equal(t, "acc-2", acc.ID)
}

func TestInMemoryStore_GetAccount(t *testing.T) {
	s := newTestStore(t)

	acc, err := s.GetAccount(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", acc.Name)

	_, err = s.GetAccount(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_AddAccountErrors(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.AddAccount(Config{ID: "acc-1", Username: "dup", Password: "x"}))
	assert.Error(t, s.AddAccount(Config{Username: "noid", Password: "x"}))
}

func TestInMemoryStore_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
accounts:
  - id: 7f3b
    username: admin
    email: admin@example.com
    password: hunter2
`), 0o600))

	s := NewInMemoryStore().WithBcryptCost(bcrypt.MinCost)
	require.NoError(t, s.LoadFile(path))

	acc, err := s.Authenticate(context.Background(), "admin", "hunter2", nil)
	require.NoError(t, err)
	assert.Equal(t, "7f3b", acc.ID)

	assert.Error(t, s.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

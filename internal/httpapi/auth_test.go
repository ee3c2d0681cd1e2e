package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
)

type userStoreStub struct {
	mu    sync.Mutex
	users map[string]domain.UserAccount
}

func (s *userStoreStub) GetUser(_ context.Context, userID string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.UserID] = user
	return nil
}

func TestLoginIssuesTenantScopedToken(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456", memory.NewSeeded())

	resp, err := manager.Login(context.Background(), LoginRequest{UserID: " Cashier ", Password: "cashier123"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCashier, resp.Role)
	assert.Equal(t, memory.DemoTenantID, resp.TenantID)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{UserID: "cashier", Role: domain.RoleCashier, TenantID: memory.DemoTenantID}, actor)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456", memory.NewSeeded())

	_, err := manager.Login(context.Background(), LoginRequest{UserID: "admin", Password: "nope"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = manager.Login(context.Background(), LoginRequest{UserID: "ghost", Password: "admin123"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	hash, err := hashPassword("s3cret-pass")
	require.NoError(t, err)
	users := &userStoreStub{users: map[string]domain.UserAccount{
		"kasir2": {UserID: "kasir2", TenantID: "t1", Password: hash, Role: domain.RoleCashier, Active: false},
	}}
	manager := NewAuthManager("test-secret", time.Hour, "123456", users)

	_, err = manager.Login(context.Background(), LoginRequest{UserID: "kasir2", Password: "s3cret-pass"})
	require.ErrorIs(t, err, ErrInactiveAccount)
}

func TestLoginRejectsPlainTextStoredPassword(t *testing.T) {
	users := &userStoreStub{users: map[string]domain.UserAccount{
		"legacy": {UserID: "legacy", TenantID: "t1", Password: "plain-pass", Role: domain.RoleCashier, Active: true},
	}}
	manager := NewAuthManager("test-secret", time.Hour, "123456", users)

	_, err := manager.Login(context.Background(), LoginRequest{UserID: "legacy", Password: "plain-pass"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseTokenRejectsForeignSignatureAndMissingTenant(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456", &userStoreStub{})
	other := NewAuthManager("other-secret", time.Hour, "123456", &userStoreStub{})

	foreign, err := other.sign(domain.Actor{UserID: "admin", Role: domain.RoleAdmin, TenantID: "t1"}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = manager.ParseToken(foreign)
	require.Error(t, err)

	noTenant, err := manager.sign(domain.Actor{UserID: "admin", Role: domain.RoleAdmin}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = manager.ParseToken(noTenant)
	require.Error(t, err)

	expired, err := manager.sign(domain.Actor{UserID: "admin", Role: domain.RoleAdmin, TenantID: "t1"}, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = manager.ParseToken(expired)
	require.Error(t, err)
}

func TestParseTokenRejectsNoneAlgorithm(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456", &userStoreStub{})
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "admin", ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             domain.RoleAdmin,
		TenantID:         "t1",
	})
	raw, err := token.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = manager.ParseToken(raw)
	require.Error(t, err)
}

func TestCreateCashierStoresHashedPassword(t *testing.T) {
	users := &userStoreStub{}
	manager := NewAuthManager("test-secret", time.Hour, "123456", users)

	created, err := manager.CreateCashier(context.Background(), "t1", CashierCreateRequest{UserID: "Kasir01", Password: "secret-1"})
	require.NoError(t, err)
	assert.Equal(t, "kasir01", created.UserID)
	assert.True(t, strings.HasPrefix(users.users["kasir01"].Password, "$2"))

	_, err = manager.CreateCashier(context.Background(), "t1", CashierCreateRequest{UserID: "kasir01", Password: "secret-2"})
	require.Error(t, err)

	resp, err := manager.Login(context.Background(), LoginRequest{UserID: "kasir01", Password: "secret-1"})
	require.NoError(t, err)
	assert.Equal(t, "t1", resp.TenantID)
}

func TestValidateManagerPIN(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "482916", &userStoreStub{})
	assert.True(t, manager.ValidateManagerPIN(" 482916 "))
	assert.False(t, manager.ValidateManagerPIN("000000"))
	assert.False(t, manager.ValidateManagerPIN(""))
}

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

const tokenIssuer = "retailpos"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
)

type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
}

// AuthManager issues and verifies tenant-scoped access tokens and holds the
// bcrypt hash of the manager PIN that authorizes refunds.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	pinHash  []byte
	users    UserStore
	parser   *jwtlib.Parser
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

// NewAuthManager returns a manager whose PIN check always fails when
// managerPIN is blank.
func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	var pinHash []byte
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		pinHash, _ = bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		pinHash:  pinHash,
		users:    users,
		parser: jwtlib.NewParser(
			jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
			jwtlib.WithIssuer(tokenIssuer),
			jwtlib.WithExpirationRequired(),
		),
	}
}

func (a *AuthManager) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	user, err := a.users.GetUser(ctx, normalizeUserID(req.UserID))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return LoginResponse{}, ErrInvalidCredentials
	case err != nil:
		return LoginResponse{}, err
	case !verifyPassword(user.Password, req.Password):
		return LoginResponse{}, ErrInvalidCredentials
	case !user.Active:
		return LoginResponse{}, ErrInactiveAccount
	}

	actor := domain.Actor{UserID: user.UserID, Role: user.Role, TenantID: user.TenantID}
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(actor, expiresAt)
	if err != nil {
		return LoginResponse{}, fmt.Errorf("sign token: %w", err)
	}
	return LoginResponse{
		AccessToken: token,
		Role:        actor.Role,
		TenantID:    actor.TenantID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken accepts only HS256 tokens from this issuer that name both a
// subject and a tenant.
func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	var claims posCustomClaims
	if _, err := a.parser.ParseWithClaims(raw, &claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return domain.Actor{}, errInvalidToken
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{UserID: claims.Subject, Role: claims.Role, TenantID: claims.TenantID}, nil
}

func (a *AuthManager) sign(actor domain.Actor, expiresAt time.Time) (string, error) {
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   actor.UserID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role:     actor.Role,
		TenantID: actor.TenantID,
	}).SignedString(a.secret)
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	pin = strings.TrimSpace(pin)
	if pin == "" || len(a.pinHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.pinHash, []byte(pin)) == nil
}

// CreateCashier registers an active cashier account in tenantID.
func (a *AuthManager) CreateCashier(ctx context.Context, tenantID string, req CashierCreateRequest) (CashierUser, error) {
	userID := normalizeUserID(req.UserID)
	if strings.ContainsAny(userID, " \t\r\n") {
		return CashierUser{}, errors.New("user_id must not contain spaces")
	}
	_, err := a.users.GetUser(ctx, userID)
	switch {
	case err == nil:
		return CashierUser{}, errors.New("user_id already exists")
	case !errors.Is(err, store.ErrNotFound):
		return CashierUser{}, err
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return CashierUser{}, errors.New("failed to hash password")
	}
	account := domain.UserAccount{
		UserID:    userID,
		TenantID:  tenantID,
		Password:  hash,
		Role:      domain.RoleCashier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.users.CreateUser(ctx, account); err != nil {
		return CashierUser{}, err
	}
	return CashierUser{
		UserID:    account.UserID,
		TenantID:  account.TenantID,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}, nil
}

func normalizeUserID(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// verifyPassword refuses anything stored as plain text.
func verifyPassword(stored string, input string) bool {
	if strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

func isPasswordHash(value string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}

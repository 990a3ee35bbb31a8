package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/FooledKiwi/carepath/internal/storage"
)

// Sentinel errors for the auth service.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenRevoked       = errors.New("auth: token revoked")
	ErrJWTSecretMissing   = errors.New("auth: JWT_SECRET not configured")
	ErrOperatorInactive   = errors.New("auth: operator account disabled")
	ErrOperatorExists     = errors.New("auth: operator username taken")
)

// Issuer is the iss claim of every access token.
const Issuer = "carepath"

// Operator roles.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// TokenPair is what an operator session holds: a short-lived access token
// and the opaque refresh token that renews it.
type TokenPair struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	RefreshToken    string    `json:"refresh_token"`
}

// AuthClaims are the JWT claims embedded in access tokens.
type AuthClaims struct {
	jwt.RegisteredClaims
	OperatorID int32  `json:"operator_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
}

// AuthService authenticates operators: login, token refresh and logout.
type AuthService struct {
	operators  storage.OperatorsRepository
	tokensRepo storage.RefreshTokensRepository
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewAuthService creates an AuthService with the given dependencies.
func NewAuthService(
	operators storage.OperatorsRepository,
	tokensRepo storage.RefreshTokensRepository,
	jwtSecret string,
	accessTTL time.Duration,
	refreshTTL time.Duration,
) *AuthService {
	return &AuthService{
		operators:  operators,
		tokensRepo: tokensRepo,
		jwtSecret:  []byte(jwtSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Login authenticates an operator by username and password, returning a token pair.
func (s *AuthService) Login(ctx context.Context, username, password string) (*TokenPair, *storage.Operator, error) {
	if len(s.jwtSecret) == 0 {
		return nil, nil, ErrJWTSecretMissing
	}

	op, err := s.operators.GetOperatorByUsername(ctx, normalizeUsername(username))
	if err != nil {
		return nil, nil, fmt.Errorf("auth: lookup operator: %w", err)
	}
	if op == nil {
		return nil, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if !op.Active {
		return nil, nil, ErrOperatorInactive
	}

	pair, err := s.generateTokenPair(ctx, op)
	if err != nil {
		return nil, nil, err
	}

	return pair, op, nil
}

// Refresh validates a refresh token and issues a new token pair.
// The old refresh token is revoked (rotation).
func (s *AuthService) Refresh(ctx context.Context, rawRefreshToken string) (*TokenPair, error) {
	if len(s.jwtSecret) == 0 {
		return nil, ErrJWTSecretMissing
	}

	tokenHash := hashToken(rawRefreshToken)

	stored, err := s.tokensRepo.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		return nil, fmt.Errorf("auth: lookup refresh token: %w", err)
	}
	if stored == nil {
		return nil, ErrInvalidCredentials
	}
	if stored.Revoked {
		return nil, ErrTokenRevoked
	}
	if time.Now().After(stored.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	// Revoke old token (rotation).
	if err := s.tokensRepo.RevokeRefreshToken(ctx, tokenHash); err != nil {
		return nil, fmt.Errorf("auth: revoke old token: %w", err)
	}

	op, err := s.operators.GetOperatorByID(ctx, stored.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("auth: lookup operator for refresh: %w", err)
	}
	if op == nil {
		return nil, ErrInvalidCredentials
	}
	if !op.Active {
		return nil, ErrOperatorInactive
	}

	return s.generateTokenPair(ctx, op)
}

// Logout revokes a specific refresh token.
func (s *AuthService) Logout(ctx context.Context, rawRefreshToken string) error {
	tokenHash := hashToken(rawRefreshToken)
	if err := s.tokensRepo.RevokeRefreshToken(ctx, tokenHash); err != nil {
		return fmt.Errorf("auth: revoke token on logout: %w", err)
	}
	return nil
}

// ValidateAccessToken parses and validates an access token, returning the claims.
func (s *AuthService) ValidateAccessToken(tokenString string) (*AuthClaims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, ErrJWTSecretMissing
	}

	token, err := jwt.ParseWithClaims(tokenString, &AuthClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("auth: parse access token: %w", err)
	}

	claims, ok := token.Claims.(*AuthClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return claims, nil
}

// CreateOperator hashes password and stores a new active operator. Usernames
// are case-insensitive; ErrOperatorExists is returned for a taken one.
func (s *AuthService) CreateOperator(ctx context.Context, username, password, fullName, role string) (*storage.Operator, error) {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("auth: create operator: username and password are required")
	}
	if role != RoleAdmin && role != RoleViewer {
		return nil, fmt.Errorf("auth: create operator: unknown role %q", role)
	}
	existing, err := s.operators.GetOperatorByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("auth: create operator: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrOperatorExists, username)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	op, err := s.operators.CreateOperator(ctx, &storage.Operator{
		Username:     username,
		PasswordHash: hash,
		FullName:     fullName,
		Role:         role,
		Active:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: create operator: %w", err)
	}
	return op, nil
}

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// generateTokenPair creates an access + refresh token pair for op.
func (s *AuthService) generateTokenPair(ctx context.Context, op *storage.Operator) (*TokenPair, error) {
	now := time.Now()

	// Access token (JWT).
	claims := AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", op.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    Issuer,
		},
		OperatorID: op.ID,
		Username:   op.Username,
		Role:       op.Role,
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("auth: sign access token: %w", err)
	}

	// Refresh token (opaque random string, stored as hash).
	rawRefresh, err := generateRandomToken(32)
	if err != nil {
		return nil, fmt.Errorf("auth: generate refresh token: %w", err)
	}

	refreshHash := hashToken(rawRefresh)
	expiresAt := now.Add(s.refreshTTL)

	if err := s.tokensRepo.StoreRefreshToken(ctx, refreshHash, op.ID, expiresAt); err != nil {
		return nil, fmt.Errorf("auth: store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:     accessToken,
		AccessExpiresAt: claims.ExpiresAt.Time,
		RefreshToken:    rawRefresh,
	}, nil
}

func normalizeUsername(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

// generateRandomToken produces a hex-encoded random string of n bytes.
func generateRandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashToken returns the SHA-256 hex digest of a token string. Only digests
// are stored.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

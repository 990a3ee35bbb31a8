package storage

import (
	"context"
	"time"
)

// Operator is an account allowed to run admin operations (facility sync,
// cache purges, stats).
type Operator struct {
	ID           int32
	Username     string
	PasswordHash string
	FullName     string
	Role         string // "admin" or "viewer"
	Active       bool
	CreatedAt    time.Time
}

// RefreshToken represents a stored refresh token.
type RefreshToken struct {
	TokenHash  string
	OperatorID int32
	ExpiresAt  time.Time
	Revoked    bool
}

// OperatorsRepository defines operations on the operators table.
type OperatorsRepository interface {
	// CreateOperator inserts a new operator and returns it with the generated ID.
	CreateOperator(ctx context.Context, op *Operator) (*Operator, error)

	// GetOperatorByUsername returns an active operator by username, or (nil, nil) if not found.
	GetOperatorByUsername(ctx context.Context, username string) (*Operator, error)

	// GetOperatorByID returns an active operator by ID, or (nil, nil) if not found.
	GetOperatorByID(ctx context.Context, id int32) (*Operator, error)
}

// RefreshTokensRepository defines operations on the refresh_tokens table.
type RefreshTokensRepository interface {
	// StoreRefreshToken persists a hashed refresh token.
	StoreRefreshToken(ctx context.Context, tokenHash string, operatorID int32, expiresAt time.Time) error

	// GetRefreshToken returns a refresh token by hash, or (nil, nil) if not found.
	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// RevokeRefreshToken marks a refresh token as revoked.
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
}

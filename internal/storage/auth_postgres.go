package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgOperatorsRepository is the pgx-backed implementation of OperatorsRepository.
type pgOperatorsRepository struct {
	pool *pgxpool.Pool
}

// NewOperatorsRepository creates an OperatorsRepository backed by the given connection pool.
func NewOperatorsRepository(pool *pgxpool.Pool) OperatorsRepository {
	return &pgOperatorsRepository{pool: pool}
}

func (r *pgOperatorsRepository) CreateOperator(ctx context.Context, op *Operator) (*Operator, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `
		INSERT INTO operators (username, password_hash, full_name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, active, created_at`

	err := r.pool.QueryRow(ctx, q, op.Username, op.PasswordHash, op.FullName, op.Role).
		Scan(&op.ID, &op.Active, &op.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("storage: CreateOperator: %w", err)
	}
	return op, nil
}

func (r *pgOperatorsRepository) GetOperatorByUsername(ctx context.Context, username string) (*Operator, error) {
	return r.getOperator(ctx, "GetOperatorByUsername", `username = $1`, username)
}

func (r *pgOperatorsRepository) GetOperatorByID(ctx context.Context, id int32) (*Operator, error) {
	return r.getOperator(ctx, "GetOperatorByID", `id = $1`, id)
}

func (r *pgOperatorsRepository) getOperator(ctx context.Context, op, where string, arg any) (*Operator, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	q := `SELECT id, username, password_hash, full_name, role, active, created_at
		FROM operators
		WHERE active AND ` + where

	var o Operator
	err := r.pool.QueryRow(ctx, q, arg).
		Scan(&o.ID, &o.Username, &o.PasswordHash, &o.FullName, &o.Role, &o.Active, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: %s: %w", op, err)
	}
	return &o, nil
}

// pgRefreshTokensRepository is the pgx-backed implementation of RefreshTokensRepository.
type pgRefreshTokensRepository struct {
	pool *pgxpool.Pool
}

// NewRefreshTokensRepository creates a RefreshTokensRepository backed by the given pool.
func NewRefreshTokensRepository(pool *pgxpool.Pool) RefreshTokensRepository {
	return &pgRefreshTokensRepository{pool: pool}
}

func (r *pgRefreshTokensRepository) StoreRefreshToken(ctx context.Context, tokenHash string, operatorID int32, expiresAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO refresh_tokens (token_hash, operator_id, expires_at) VALUES ($1, $2, $3)`,
		tokenHash, operatorID, expiresAt)
	if err != nil {
		return fmt.Errorf("storage: StoreRefreshToken: %w", err)
	}
	return nil
}

func (r *pgRefreshTokensRepository) GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t RefreshToken
	err := r.pool.QueryRow(ctx,
		`SELECT token_hash, operator_id, expires_at, revoked FROM refresh_tokens WHERE token_hash = $1`,
		tokenHash).Scan(&t.TokenHash, &t.OperatorID, &t.ExpiresAt, &t.Revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: GetRefreshToken: %w", err)
	}
	return &t, nil
}

func (r *pgRefreshTokensRepository) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("storage: RevokeRefreshToken: %w", err)
	}
	return nil
}

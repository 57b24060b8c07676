package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrAuthorizationNotFound = errors.New("authorization record not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetAuthorization(ctx context.Context, identityID string) (AuthorizationRecord, error) {
	record := AuthorizationRecord{IdentityID: identityID}

	var authorizedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT authorized, authorized_at
		FROM auth_bot_users
		WHERE identity_id = $1
	`, identityID).Scan(&record.Authorized, &authorizedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AuthorizationRecord{}, ErrAuthorizationNotFound
		}
		return AuthorizationRecord{}, fmt.Errorf("query authorization: %w", err)
	}
	if authorizedAt.Valid {
		value := authorizedAt.Time.UTC()
		record.AuthorizedAt = &value
	}

	return record, nil
}

func (r *Repository) UpsertAuthorization(ctx context.Context, identityID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_bot_users (identity_id, authorized, authorized_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity_id)
		DO UPDATE SET
			authorized = EXCLUDED.authorized,
			authorized_at = EXCLUDED.authorized_at
	`, identityID, true, at.UTC())
	if err != nil {
		return fmt.Errorf("upsert authorization: %w", err)
	}

	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

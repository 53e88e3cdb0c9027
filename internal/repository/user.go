package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
)

const userColumns = `id, username, email, uuid, password_hash, first_name, last_name,
	avatar_url, is_staff, created_at, updated_at`

// UserRepository handles user data access operations.
type UserRepository struct {
	q querier
}

// FindByID retrieves a user by their ID.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	var user domain.User
	err := r.q.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by id %d: %w", id, err)
	}
	return &user, nil
}

// FindByEmail retrieves a user by exact email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := r.q.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByIdentifier retrieves a user by case-insensitive username or by email.
func (r *UserRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	var user domain.User
	err := r.q.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1) OR email = $1`, identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by identifier: %w", err)
	}
	return &user, nil
}

// FindByAPIKey retrieves a user by the exact username + uuid pair.
func (r *UserRepository) FindByAPIKey(ctx context.Context, username, uid string) (*domain.User, error) {
	var user domain.User
	err := r.q.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users WHERE username = $1 AND uuid = $2`, username, uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by api key: %w", err)
	}
	return &user, nil
}

// Create inserts a new user and returns the stored row. Unique violations on
// username and email surface as their domain errors.
func (r *UserRepository) Create(ctx context.Context, user domain.User) (*domain.User, error) {
	var result domain.User
	err := r.q.QueryRowxContext(ctx,
		`INSERT INTO users (username, email, uuid, password_hash, first_name, last_name, avatar_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+userColumns,
		user.Username, user.Email, user.UUID, user.PasswordHash,
		user.FirstName, user.LastName, user.AvatarURL,
	).StructScan(&result)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", uniqueViolation(err))
	}
	return &result, nil
}

// RotateUUID replaces the user's uuid, invalidating the previous API key.
func (r *UserRepository) RotateUUID(ctx context.Context, userID int64, newUUID string) (*domain.User, error) {
	var result domain.User
	err := r.q.QueryRowxContext(ctx,
		`UPDATE users SET uuid = $2, updated_at = NOW() WHERE id = $1
		 RETURNING `+userColumns, userID, newUUID,
	).StructScan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("rotate uuid for user %d: %w", userID, err)
	}
	return &result, nil
}

// SetAvatarIfEmpty stores the avatar URL when the user has none.
func (r *UserRepository) SetAvatarIfEmpty(ctx context.Context, userID int64, avatarURL string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE users SET avatar_url = $2, updated_at = NOW()
		 WHERE id = $1 AND (avatar_url IS NULL OR avatar_url = '')`,
		userID, avatarURL)
	if err != nil {
		return fmt.Errorf("set avatar for user %d: %w", userID, err)
	}
	return nil
}

// uniqueViolation maps PostgreSQL unique violations to domain errors by the
// violated constraint.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "username"):
		return domain.ErrUsernameTaken
	case strings.Contains(pgErr.ConstraintName, "email"):
		return domain.ErrEmailAlreadyRegistered
	case strings.Contains(pgErr.ConstraintName, "provider"):
		return domain.ErrAccountAlreadyLinked
	default:
		return domain.ErrConflict
	}
}

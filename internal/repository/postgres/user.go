package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/passwordless/internal/apperrors"
	"github.com/nkiryanov/passwordless/internal/models"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, created_at, email, name, avatar, is_active`

const createUser = `-- name: CreateUser
INSERT INTO users (id, email, name, avatar)
VALUES ($1, $2, $3, $4)
RETURNING ` + userColumns

// CreateUser stores new user
// If user with email exists already has to return error apperrors.ErrUserAlreadyExists
func (r *UserRepo) CreateUser(ctx context.Context, email string, profile models.Profile) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser, uuid.New(), email, profile.Name, profile.Avatar)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, apperrors.ErrUserAlreadyExists
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const fillProfile = `-- name: FillProfile
UPDATE users SET
    name = CASE WHEN name = '' THEN $2 ELSE name END,
    avatar = CASE WHEN avatar = '' THEN $3 ELSE avatar END
WHERE id = $1
RETURNING ` + userColumns

// GetOrCreateByEmail returns existed user or creates new one.
// Concurrent sign in of a new email ends up in unique violation, the row created by the winner is returned then
func (r *UserRepo) GetOrCreateByEmail(ctx context.Context, email string, profile models.Profile) (models.User, error) {
	user, err := r.GetUserByEmail(ctx, email)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		user, err = r.CreateUser(ctx, email, profile)
		if !errors.Is(err, apperrors.ErrUserAlreadyExists) {
			return user, err
		}
		user, err = r.GetUserByEmail(ctx, email)
	}
	if err != nil {
		return user, err
	}

	if (user.Name != "" || profile.Name == "") && (user.Avatar != "" || profile.Avatar == "") {
		return user, nil
	}

	rows, _ := r.DB.Query(ctx, fillProfile, user.ID, profile.Name, profile.Avatar)
	return collectUser(rows)
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + ` FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, id)
	return collectUser(rows)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT ` + userColumns + ` FROM users
WHERE email = $1
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, email)
	return collectUser(rows)
}

const activateUser = `-- name: ActivateUser
UPDATE users
SET name = $2, avatar = $3, is_active = true
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) Activate(ctx context.Context, id uuid.UUID, profile models.Profile) (models.User, error) {
	rows, _ := r.DB.Query(ctx, activateUser, id, profile.Name, profile.Avatar)
	return collectUser(rows)
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Email, &u.Name, &u.Avatar, &u.IsActive)
	return u, err
}

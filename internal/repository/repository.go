package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/nkiryanov/passwordless/internal/models"
)

// User repository interface
// Emails are expected to be normalized by caller
type UserRepo interface {
	// Return user with the email, create it if not exists
	// Profile used only when user created or existed one has empty fields
	GetOrCreateByEmail(ctx context.Context, email string, profile models.Profile) (models.User, error)

	// Get user by it's id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Set user name and avatar and mark user active
	// If user not found must return apperrors.ErrUserNotFound
	Activate(ctx context.Context, userID uuid.UUID, profile models.Profile) (models.User, error)
}

package user

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/passwordless/internal/models"
	"github.com/nkiryanov/passwordless/internal/repository"
)

type UserService struct {
	userRepo repository.UserRepo
}

func NewService(userRepo repository.UserRepo) *UserService {
	return &UserService{
		userRepo: userRepo,
	}
}

// GetProfile returns user by id
// If user not found returns apperrors.ErrUserNotFound
func (s *UserService) GetProfile(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.userRepo.GetUserByID(ctx, userID)
}

// Activate completes user profile after first sign in
func (s *UserService) Activate(ctx context.Context, userID uuid.UUID, profile models.Profile) (models.User, error) {
	profile.Name = strings.TrimSpace(profile.Name)
	profile.Avatar = strings.TrimSpace(profile.Avatar)

	user, err := s.userRepo.Activate(ctx, userID, profile)
	if err != nil {
		return user, fmt.Errorf("can't activate user. Err: %w", err)
	}

	return user, nil
}

package users

import (
	"context"

	"github.com/everkeep/everkeep/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	TouchActivity(ctx context.Context, id string) error
	SetPublicKeyID(ctx context.Context, id, publicKeyID string) error
}

package vaults

import (
	"context"

	"github.com/everkeep/everkeep/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, vault *models.Vault) (*models.Vault, error)
	GetByID(ctx context.Context, id string) (*models.Vault, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Vault, error)

	AddItem(ctx context.Context, item *models.VaultItem) (*models.VaultItem, error)
	ListItems(ctx context.Context, vaultID string) ([]*models.VaultItem, error)
}

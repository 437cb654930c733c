// Package vaults provides the PostgreSQL-backed repository for vaults and
// their encrypted item rows. Item payloads arrive already encrypted as
// salt:iv:ciphertext envelopes; the server stores them opaquely.
package vaults

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/dbx"
	"github.com/everkeep/everkeep/internal/server/models"
	"github.com/google/uuid"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, vault *models.Vault) (*models.Vault, error) {
	if vault.ID == "" {
		vault.ID = uuid.NewString()
	}

	query := `
		INSERT INTO vaults (id, owner_id, name, category)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		vault.ID, vault.OwnerID, vault.Name, vault.Category).Scan(&vault.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return vault, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Vault, error) {
	query := `SELECT id, owner_id, name, category, created_at FROM vaults WHERE id = $1`

	v := &models.Vault{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&v.ID, &v.OwnerID, &v.Name, &v.Category, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Vault, error) {
	query := `SELECT id, owner_id, name, category, created_at FROM vaults WHERE owner_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Vault
	for rows.Next() {
		v := &models.Vault{}
		if err := rows.Scan(&v.ID, &v.OwnerID, &v.Name, &v.Category, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) AddItem(ctx context.Context, item *models.VaultItem) (*models.VaultItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	query := `
		INSERT INTO vault_items (id, vault_id, name, envelope, storage_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		item.ID, item.VaultID, item.Name, item.Envelope, item.StorageKey).Scan(&item.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return item, nil
}

func (r *PostgresRepository) ListItems(ctx context.Context, vaultID string) ([]*models.VaultItem, error) {
	query := `SELECT id, vault_id, name, envelope, storage_key, created_at FROM vault_items WHERE vault_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, vaultID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.VaultItem
	for rows.Next() {
		item := &models.VaultItem{}
		if err := rows.Scan(&item.ID, &item.VaultID, &item.Name, &item.Envelope, &item.StorageKey, &item.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// This file implements VaultService: vault and item CRUD plus presigned
// URLs for externally stored encrypted attachments.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/everkeep/everkeep/internal/common"
	sc "github.com/everkeep/everkeep/internal/server/config"
	"github.com/everkeep/everkeep/internal/server/models"
	"github.com/everkeep/everkeep/internal/server/repositories/repomanager"
	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Indirection points for the AWS presign client, swappable in tests.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// VaultService manages vaults and their encrypted items. Item payloads are
// opaque salt:iv:ciphertext envelopes; attachments live in object storage
// reached only through presigned URLs.
type VaultService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
}

// NewVaultService constructs a VaultService.
func NewVaultService(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config) *VaultService {
	return &VaultService{db: db, repomanager: m, config: cfg}
}

// validateEnvelopeShape rejects payloads that are not three colon-separated
// segments. Contents stay opaque to the server.
func validateEnvelopeShape(envelope string) error {
	segments := 1
	for _, c := range envelope {
		if c == ':' {
			segments++
		}
	}
	if envelope == "" || segments != 3 {
		return fmt.Errorf("%w: envelope must have exactly three colon-separated segments", common.ErrValidation)
	}
	return nil
}

// GetRandomStorageKey builds a date-partitioned object key for a new
// encrypted attachment.
func GetRandomStorageKey(ownerID string) string {
	d := time.Now()
	return fmt.Sprintf("vaults/%s/%d/%d/%d/%v", ownerID, d.Year(), d.Month(), d.Day(), uuid.New())
}

// CreateVault creates a vault with an after-death category.
func (s *VaultService) CreateVault(ctx context.Context, ownerID, name string, category models.VaultCategory) (*models.Vault, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: vault name is required", common.ErrValidation)
	}
	switch category {
	case models.VaultShareAfterDeath, models.VaultHandleAfterDeath,
		models.VaultDeleteAfterDeath, models.VaultSignOffAfterDeath:
	default:
		return nil, fmt.Errorf("%w: unknown vault category %q", common.ErrValidation, category)
	}

	vault := &models.Vault{OwnerID: ownerID, Name: name, Category: category}
	created, err := s.repomanager.Vaults(s.db).Create(ctx, vault)
	if err != nil {
		return nil, fmt.Errorf("error creating vault: %w", err)
	}
	return created, nil
}

// ListVaults returns the owner's vaults.
func (s *VaultService) ListVaults(ctx context.Context, ownerID string) ([]*models.Vault, error) {
	return s.repomanager.Vaults(s.db).ListByOwner(ctx, ownerID)
}

// AddItem stores one encrypted item row in an owner's vault. The envelope
// must carry exactly three colon-separated segments; the server validates
// shape only and never decrypts.
func (s *VaultService) AddItem(ctx context.Context, ownerID, vaultID, name, envelope, storageKey string) (*models.VaultItem, error) {
	if err := validateEnvelopeShape(envelope); err != nil {
		return nil, err
	}

	vault, err := s.repomanager.Vaults(s.db).GetByID(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if vault.OwnerID != ownerID {
		return nil, common.ErrNotFound
	}

	item := &models.VaultItem{VaultID: vaultID, Name: name, Envelope: envelope, StorageKey: storageKey}
	created, err := s.repomanager.Vaults(s.db).AddItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("error adding vault item: %w", err)
	}
	return created, nil
}

// ListItems returns a vault's encrypted items for its owner, or for a heir
// holding a view grant on the vault.
func (s *VaultService) ListItems(ctx context.Context, callerID, vaultID string) ([]*models.VaultItem, error) {
	vault, err := s.repomanager.Vaults(s.db).GetByID(ctx, vaultID)
	if err != nil {
		return nil, err
	}

	if vault.OwnerID != callerID {
		allowed, err := s.heirCanView(ctx, callerID, vaultID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, common.ErrNotFound
		}
	}

	return s.repomanager.Vaults(s.db).ListItems(ctx, vaultID)
}

func (s *VaultService) heirCanView(ctx context.Context, callerID, vaultID string) (bool, error) {
	grants, err := s.repomanager.Access(s.db).ListByVault(ctx, vaultID)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if !g.CanView {
			continue
		}
		heir, err := s.repomanager.Heirs(s.db).GetByID(ctx, g.HeirID)
		if err != nil {
			continue
		}
		if heir.HeirUserID.Valid && heir.HeirUserID.String == callerID {
			return true, nil
		}
	}
	return false, nil
}

func (s *VaultService) getPresignClient() (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		awsconfig.WithRegion(s.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
	})

	return newS3PresignClient(client), nil
}

// GetPresignedPutURL mints a fresh storage key and a 15-minute PUT URL for
// uploading an already encrypted attachment.
func (s *VaultService) GetPresignedPutURL(ctx context.Context, ownerID string) (string, string, error) {
	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", common.ErrExternalStore, err)
	}

	bucket := s.config.S3Bucket
	key := GetRandomStorageKey(ownerID)

	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", common.ErrExternalStore, err)
	}

	return key, req.URL, nil
}

// GetPresignedGetURL returns a 15-minute GET URL for a stored attachment.
// Keys are partitioned per owner, so the caller may only sign keys under
// their own prefix.
func (s *VaultService) GetPresignedGetURL(ctx context.Context, callerID, key string) (string, error) {
	if !strings.HasPrefix(key, fmt.Sprintf("vaults/%s/", callerID)) {
		return "", fmt.Errorf("%w: storage key does not belong to caller", common.ErrNotFound)
	}

	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrExternalStore, err)
	}

	bucket := s.config.S3Bucket

	req, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrExternalStore, err)
	}

	return req.URL, nil
}

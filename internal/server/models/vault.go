package models

import "time"

// VaultCategory declares what should happen to a vault after death.
type VaultCategory string

const (
	VaultShareAfterDeath   VaultCategory = "share_after_death"
	VaultHandleAfterDeath  VaultCategory = "handle_after_death"
	VaultDeleteAfterDeath  VaultCategory = "delete_after_death"
	VaultSignOffAfterDeath VaultCategory = "sign_off_after_death"
)

// Vault is a named collection of encrypted items belonging to one owner.
type Vault struct {
	ID        string
	OwnerID   string
	Name      string
	Category  VaultCategory
	CreatedAt time.Time
}

// VaultItem is a single encrypted record inside a vault. Envelope holds the
// salt:iv:ciphertext string produced on the owner's device; the server never
// sees plaintext. StorageKey, when set, points at an externally stored
// encrypted attachment reachable through presigned URLs.
type VaultItem struct {
	ID         string
	VaultID    string
	Name       string
	Envelope   string
	StorageKey string
	CreatedAt  time.Time
}

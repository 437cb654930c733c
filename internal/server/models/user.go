// Package models defines the server-side entities persisted in Postgres.
package models

import "time"

// User is an account holder: an owner of vaults and plans, and possibly an
// accepted heir of someone else's. Salt and Verifier support the
// device-side key derivation scheme; the raw master key never reaches the
// server. PublicKeyID is the one-way lookup label derived from the owner's
// private key.
type User struct {
	ID             string
	Email          string
	Salt           []byte
	Verifier       []byte
	PublicKeyID    string
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// RefreshToken is a server-stored long-lived token, rotated on each use.
type RefreshToken struct {
	UserID  string
	Token   string
	Expires time.Time
}

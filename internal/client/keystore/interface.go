package keystore

import (
	"context"
)

// Repository is a named-secret store on the owner's device. Get returns nil
// without error when the name is absent.
type Repository interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Set(ctx context.Context, name string, value []byte) error
	Delete(ctx context.Context, name string) error
	Clear(ctx context.Context) error
}

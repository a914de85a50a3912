package store

import (
	"context"

	"github.com/BrandonDHaskell/postback-receiver/internal/postback/types"
)

// ConversionStore holds at most one record per offer ID.  Put overwrites any
// existing record for the same ID.
type ConversionStore interface {
	Put(ctx context.Context, rec types.ConversionRecord) error
	Get(ctx context.Context, offerID string) (types.ConversionRecord, bool, error)
	Count(ctx context.Context) (int, error)
}

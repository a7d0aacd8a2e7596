package ledger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/affine/internal/config"
)

// Open builds the Ledger selected by cfg. The returned func releases the
// backing store.
func Open(ctx context.Context, cfg *config.LedgerEnvConfig) (*Ledger, func() error, error) {
	var (
		store   Store
		closeFn = func() error { return nil }
	)
	switch cfg.Store {
	case "gcs":
		gcs, err := NewGCSStore(ctx, cfg.Bucket, cfg.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = gcs, gcs.Close
	case "memory":
		log.Warn().Msg("using in-memory ledger store; results are not persisted")
		store = NewMemoryStore()
	default:
		return nil, nil, fmt.Errorf("unknown ledger store %q", cfg.Store)
	}
	return New(store, cfg.Window, cfg.Prefix), closeFn, nil
}

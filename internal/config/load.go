package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"

	"github.com/tensorplex-labs/affine/pkg/signature"
)

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*AppConfig, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	var err error
	if cfg.Wallet.BittensorDir, err = signature.ExpandHome(cfg.Wallet.BittensorDir); err != nil {
		return nil, err
	}
	if cfg.Cache.Dir, err = signature.ExpandHome(cfg.Cache.Dir); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the loops cannot run with.
func (c *AppConfig) Validate() error {
	switch {
	case c.Ledger.Window <= 0:
		return fmt.Errorf("AFFINE_WINDOW must be positive, got %d", c.Ledger.Window)
	case c.Ledger.Store != "gcs" && c.Ledger.Store != "memory":
		return fmt.Errorf("AFFINE_STORE must be gcs or memory, got %q", c.Ledger.Store)
	case c.Cache.Concurrency <= 0:
		return fmt.Errorf("AFFINE_SHARD_CONCURRENCY must be positive, got %d", c.Cache.Concurrency)
	case c.Dispatch.Concurrency <= 0:
		return fmt.Errorf("AFFINE_HTTP_CONCURRENCY must be positive, got %d", c.Dispatch.Concurrency)
	case c.Dispatch.Retries < 0:
		return fmt.Errorf("AFFINE_QUERY_RETRIES cannot be negative, got %d", c.Dispatch.Retries)
	case c.Validator.Tempo <= 0:
		return fmt.Errorf("AFFINE_TEMPO must be positive, got %d", c.Validator.Tempo)
	case c.Validator.Tail < 0:
		return fmt.Errorf("AFFINE_TAIL cannot be negative, got %d", c.Validator.Tail)
	}
	return nil
}

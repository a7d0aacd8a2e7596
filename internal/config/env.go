// Package config defines environment configuration structs and loaders.
package config

import "time"

type AppConfig struct {
	Environment string `env:"ENVIRONMENT, default=prod"`

	Chain     ChainEnvConfig
	Wallet    WalletEnvConfig
	Kami      KamiEnvConfig
	Ledger    LedgerEnvConfig
	Cache     CacheEnvConfig
	Dispatch  DispatchEnvConfig
	Chutes    ChutesEnvConfig
	Validator ValidatorEnvConfig
	Metrics   MetricsEnvConfig
}

// ChainEnvConfig holds chain-specific environment values.
type ChainEnvConfig struct {
	Netuid int `env:"NETUID, default=120"`
}

// WalletEnvConfig holds wallet key configuration.
type WalletEnvConfig struct {
	WalletHotkey  string `env:"WALLET_HOTKEY, default=default"`
	WalletColdkey string `env:"WALLET_COLDKEY, default=default"`
	BittensorDir  string `env:"BITTENSOR_DIR, default=~/.bittensor"`
}

// KamiEnvConfig contains the Kami service target.
type KamiEnvConfig struct {
	KamiHost string `env:"KAMI_HOST, default=127.0.0.1"`
	KamiPort string `env:"KAMI_PORT, default=3000"`
}

// LedgerEnvConfig configures the remote result ledger.
type LedgerEnvConfig struct {
	Window          int    `env:"AFFINE_WINDOW, default=20"`
	Store           string `env:"AFFINE_STORE, default=gcs"`
	Bucket          string `env:"AFFINE_BUCKET, default=affine"`
	Prefix          string `env:"AFFINE_PREFIX, default=affine/"`
	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
}

// CacheEnvConfig configures the local shard mirror.
type CacheEnvConfig struct {
	Dir         string `env:"AFFINE_CACHE_DIR, default=~/.cache/affine/blocks"`
	Concurrency int    `env:"AFFINE_SHARD_CONCURRENCY, default=25"`
}

// DispatchEnvConfig configures miner inference calls.
type DispatchEnvConfig struct {
	Concurrency int           `env:"AFFINE_HTTP_CONCURRENCY, default=16"`
	Timeout     time.Duration `env:"AFFINE_QUERY_TIMEOUT, default=180s"`
	Retries     int           `env:"AFFINE_QUERY_RETRIES, default=0"`
	Backoff     time.Duration `env:"AFFINE_QUERY_BACKOFF, default=1s"`
	BaseURL     string        `env:"AFFINE_INFERENCE_URL, default=https://%s.chutes.ai/v1"`
	Envs        []string      `env:"AFFINE_ENVS, default=SAT"`
}

// ChutesEnvConfig configures the endpoint metadata API.
type ChutesEnvConfig struct {
	APIKey string `env:"CHUTES_API_KEY"`
	APIURL string `env:"CHUTES_API_URL, default=https://api.chutes.ai"`
}

// ValidatorEnvConfig configures the long running loops.
type ValidatorEnvConfig struct {
	Tail              int           `env:"AFFINE_TAIL, default=10000"`
	Tempo             int           `env:"AFFINE_TEMPO, default=100"`
	WatchdogTimeout   time.Duration `env:"AFFINE_WATCHDOG_TIMEOUT, default=10m"`
	Cooldown          time.Duration `env:"AFFINE_COOLDOWN, default=10s"`
	SetWeightsRetries int           `env:"AFFINE_SET_WEIGHTS_RETRIES, default=3"`
	BlockPoll         time.Duration `env:"AFFINE_BLOCK_POLL, default=2s"`
}

// MetricsEnvConfig configures the status server.
type MetricsEnvConfig struct {
	Addr string `env:"AFFINE_METRICS_ADDR, default=0.0.0.0:8000"`
}

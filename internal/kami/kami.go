// Package kami provides a Bittensor subtensor client which relies on Kami as the RPC endpoint.
package kami

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/affine/internal/config"
)

// Chain is the subset of chain access the runner and validator loops use.
type Chain interface {
	CurrentBlock(ctx context.Context) (int, error)
	GetMetagraph(ctx context.Context, netuid int) (*SubnetMetagraph, error)
	GetRevealedCommitments(ctx context.Context, netuid int) (map[string][]Commitment, error)
	SetWeights(ctx context.Context, params SetWeightsParams) (string, error)
}

// Kami is a client wrapper for the Kami HTTP API.
type Kami struct {
	client  *resty.Client
	BaseURL string
}

var _ Chain = (*Kami)(nil)

// Dialer opens a chain handle. Loops call it again after discarding a handle
// that returned an error.
type Dialer func(ctx context.Context) (Chain, error)

// NewDialer returns a Dialer that checks the sidecar is reachable before
// handing out a client.
func NewDialer(cfg *config.KamiEnvConfig) Dialer {
	return func(ctx context.Context) (Chain, error) {
		k, err := NewKami(cfg)
		if err != nil {
			return nil, err
		}
		if _, err := k.CurrentBlock(ctx); err != nil {
			return nil, fmt.Errorf("kami unreachable at %s: %w", k.BaseURL, err)
		}
		log.Debug().Str("base_url", k.BaseURL).Msg("connected to kami")
		return k, nil
	}
}

// NewKami creates a new Kami client using the provided environment configuration.
func NewKami(cfg *config.KamiEnvConfig) (*Kami, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	url := fmt.Sprintf("http://%s:%s", cfg.KamiHost, cfg.KamiPort)

	client := resty.New().
		SetBaseURL(url).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetTimeout(15 * time.Second)

	return &Kami{client: client, BaseURL: url}, nil
}

func postJSON[T any](ctx context.Context, client *resty.Client, path string, body any) (T, error) {
	var result KamiResponse[T]
	var zero T
	resp, err := client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("post request failed")
		return zero, fmt.Errorf("post %s: %w", path, err)
	}
	if resp.IsError() {
		log.Error().Int("status", resp.StatusCode()).Str("body", resp.String()).Str("path", path).Msg("post non-2xx")
		return zero, fmt.Errorf("request returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Error != nil {
		log.Error().Interface("error", result.Error).Str("path", path).Msg("response contains error")
		return zero, fmt.Errorf("response error: %v", result.Error)
	}
	return result.Data, nil
}

func getJSON[T any](ctx context.Context, client *resty.Client, path string) (T, error) {
	var result KamiResponse[T]
	var zero T
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&result).
		Get(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("get request failed")
		return zero, fmt.Errorf("get %s: %w", path, err)
	}
	if resp.IsError() {
		log.Error().Int("status", resp.StatusCode()).Str("body", resp.String()).Str("path", path).Msg("get non-2xx")
		return zero, fmt.Errorf("request returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Error != nil {
		log.Error().Interface("error", result.Error).Str("path", path).Msg("response contains error")
		return zero, fmt.Errorf("response error: %v", result.Error)
	}
	return result.Data, nil
}

// GetMetagraph fetches the subnet metagraph for the given netuid.
func (k *Kami) GetMetagraph(ctx context.Context, netuid int) (*SubnetMetagraph, error) {
	path := fmt.Sprintf("/chain/subnet-metagraph/%d", netuid)
	m, err := getJSON[SubnetMetagraph](ctx, k.client, path)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetLatestBlock retrieves the latest block details from the chain.
func (k *Kami) GetLatestBlock(ctx context.Context) (LatestBlock, error) {
	return getJSON[LatestBlock](ctx, k.client, "/chain/latest-block")
}

// CurrentBlock returns the latest block number.
func (k *Kami) CurrentBlock(ctx context.Context) (int, error) {
	b, err := k.GetLatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	return b.BlockNumber, nil
}

// GetRevealedCommitments returns every revealed commitment on the subnet keyed by hotkey,
// oldest first.
func (k *Kami) GetRevealedCommitments(ctx context.Context, netuid int) (map[string][]Commitment, error) {
	path := fmt.Sprintf("/chain/revealed-commitments/%d", netuid)
	return getJSON[map[string][]Commitment](ctx, k.client, path)
}

// SetWeights sets the subnet weights and returns the extrinsic hash.
func (k *Kami) SetWeights(ctx context.Context, params SetWeightsParams) (string, error) {
	return postJSON[string](ctx, k.client, "/chain/set-weights", params)
}

// GetKeyringPair returns information about the node's keyring pair.
func (k *Kami) GetKeyringPair(ctx context.Context) (KeyringPairInfo, error) {
	return getJSON[KeyringPairInfo](ctx, k.client, "/substrate/keyring-pair-info")
}

// Package chutes looks up endpoint metadata for the model a miner committed to.
package chutes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
)

// ErrChuteNotFound is returned when the API has no chute for the id.
var ErrChuteNotFound = errors.New("chute not found")

// DefaultAPIURL is the public endpoint metadata API.
const DefaultAPIURL = "https://api.chutes.ai"

// Chute is the subset of endpoint metadata used for miner discovery.
type Chute struct {
	ChuteID  string  `json:"chute_id"`
	Slug     string  `json:"slug"`
	Name     string  `json:"name"`
	Revision *string `json:"revision"`
}

// Client talks to the endpoint metadata API.
type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	apiKey     string
}

func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = 30 * time.Second
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil

	return &Client{
		httpClient: client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// GetChute fetches metadata for a single chute id.
func (c *Client) GetChute(ctx context.Context, id string) (*Chute, error) {
	if id == "" {
		return nil, fmt.Errorf("empty chute id")
	}
	endpoint := c.baseURL + "/chutes/" + url.PathEscape(id)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("chute_id", id).Msg("chute lookup failed")
		return nil, fmt.Errorf("get chute %s: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chute %s: %w", id, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrChuteNotFound, id)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("get chute %s: status %d: %s", id, resp.StatusCode, string(body))
	}

	var chute Chute
	if err := sonic.Unmarshal(body, &chute); err != nil {
		return nil, fmt.Errorf("decode chute %s: %w", id, err)
	}
	if chute.ChuteID == "" {
		chute.ChuteID = id
	}
	log.Debug().Str("chute_id", id).Str("slug", chute.Slug).Msg("resolved chute")
	return &chute, nil
}

// Package dispatch fans challenges out to miner inference endpoints and grades
// the responses.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"

	"github.com/tensorplex-labs/affine/internal/env"
	"github.com/tensorplex-labs/affine/internal/record"
)

const (
	DefaultConcurrency = 16
	DefaultTimeout     = 150 * time.Second
	DefaultBackoff     = time.Second
	DefaultBaseURL     = "https://%s.chutes.ai/v1"
)

// terminal statuses are never retried.
var terminal = map[int]bool{
	http.StatusBadRequest: true,
	http.StatusNotFound:   true,
	http.StatusGone:       true,
}

type Config struct {
	// BaseURL is the OpenAI-compatible base URL; a %s verb is replaced with the miner endpoint.
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// Dispatcher queries miners through a shared inference gate.
type Dispatcher struct {
	cfg        Config
	gate       *semaphore.Weighted
	envs       env.Registry
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

// New returns a Dispatcher. gate bounds in-flight inference calls across every
// batch run through this Dispatcher.
func New(cfg Config, gate *semaphore.Weighted, envs env.Registry) *Dispatcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if gate == nil {
		gate = semaphore.NewWeighted(DefaultConcurrency)
	}
	return &Dispatcher{
		cfg:        cfg,
		gate:       gate,
		envs:       envs,
		httpClient: &http.Client{},
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff is the wait after the given failed attempt (1-based), jittered by ±10%.
func Backoff(base time.Duration, attempt int) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt-1))
	return time.Duration(d * (1 + (rand.Float64()*0.2 - 0.1)))
}

func (d *Dispatcher) baseURL(endpoint string) string {
	if strings.Contains(d.cfg.BaseURL, "%s") {
		return fmt.Sprintf(d.cfg.BaseURL, endpoint)
	}
	return d.cfg.BaseURL
}

// Query sends prompt to the miner's endpoint. It never returns an error: every
// failure is recorded on the Response.
func (d *Dispatcher) Query(ctx context.Context, prompt string, miner record.Miner) record.Response {
	start := time.Now()

	conf := openai.DefaultConfig(d.cfg.APIKey)
	conf.BaseURL = d.baseURL(miner.Endpoint)
	conf.HTTPClient = d.httpClient
	client := openai.NewClientWithConfig(conf)

	req := openai.ChatCompletionRequest{
		Model: miner.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	var (
		attempts int
		lastErr  string
	)
	for attempts < d.cfg.Retries+1 {
		attempts++
		text, status, err := d.attempt(ctx, client, req)
		if err == nil {
			return record.Response{
				Response:       &text,
				LatencySeconds: time.Since(start).Seconds(),
				Attempts:       attempts,
				Model:          miner.Model,
				Success:        true,
			}
		}
		lastErr = err.Error()

		if terminal[status] {
			log.Debug().Int("uid", miner.UID).Int("status", status).Msg("terminal inference status")
			break
		}
		if attempts > d.cfg.Retries {
			break
		}
		wait := Backoff(d.cfg.Backoff, attempts)
		log.Debug().Err(err).Int("uid", miner.UID).Int("attempt", attempts).Dur("backoff", wait).Msg("retrying inference")
		if err := d.sleep(ctx, wait); err != nil {
			lastErr = err.Error()
			break
		}
	}

	return record.Response{
		LatencySeconds: time.Since(start).Seconds(),
		Attempts:       attempts,
		Model:          miner.Model,
		Error:          &lastErr,
		Success:        false,
	}
}

// attempt runs a single call under the gate. status is the HTTP status when one was received.
func (d *Dispatcher) attempt(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest) (string, int, error) {
	if err := d.gate.Acquire(ctx, 1); err != nil {
		return "", 0, err
	}
	defer d.gate.Release(1)

	actx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	resp, err := client.CreateChatCompletion(actx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", apiErr.HTTPStatusCode, fmt.Errorf("%d:%s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return "", reqErr.HTTPStatusCode, fmt.Errorf("%d:%v", reqErr.HTTPStatusCode, reqErr.Err)
		}
		return "", 0, err
	}
	if len(resp.Choices) == 0 {
		return "", http.StatusOK, fmt.Errorf("response has no choices")
	}
	return resp.Choices[0].Message.Content, http.StatusOK, nil
}

// Run queries every miner that has a model with every challenge concurrently
// and returns the graded Results. Pairs whose task fails unexpectedly are
// logged and left out.
func (d *Dispatcher) Run(ctx context.Context, challenges []*record.Challenge, miners []record.Miner) []*record.Result {
	type pair struct {
		chal  *record.Challenge
		miner record.Miner
	}
	var pairs []pair
	for _, m := range miners {
		if m.Model == "" {
			continue
		}
		for _, c := range challenges {
			pairs = append(pairs, pair{chal: c, miner: m})
		}
	}

	out := make([]*record.Result, len(pairs))
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Int("uid", p.miner.UID).
						Str("env", p.chal.Env).
						Msg("query task failed")
				}
			}()

			resp := d.Query(ctx, p.chal.Prompt, p.miner)
			ev := d.evaluate(ctx, p.chal, &resp)
			out[i] = &record.Result{
				Version:    record.SchemaVersion,
				Miner:      p.miner,
				Challenge:  *p.chal,
				Response:   resp,
				Evaluation: *ev,
			}
		}()
	}
	wg.Wait()

	results := make([]*record.Result, 0, len(out))
	for _, r := range out {
		if r != nil {
			results = append(results, r)
		}
	}
	log.Info().Int("pairs", len(pairs)).Int("results", len(results)).Msg("dispatch round complete")
	return results
}

func (d *Dispatcher) evaluate(ctx context.Context, c *record.Challenge, resp *record.Response) (ev *record.Evaluation) {
	defer func() {
		if r := recover(); r != nil {
			ev = failedEvaluation(c.Env, fmt.Errorf("evaluate panicked: %v", r))
		}
	}()

	e, err := d.envs.Get(c.Env)
	if err != nil {
		return failedEvaluation(c.Env, err)
	}
	ev, err = e.Evaluate(ctx, c, resp)
	if err != nil {
		return failedEvaluation(c.Env, err)
	}
	if ev == nil {
		return failedEvaluation(c.Env, fmt.Errorf("environment returned no evaluation"))
	}
	return ev
}

func failedEvaluation(envName string, err error) *record.Evaluation {
	log.Warn().Err(err).Str("env", envName).Msg("evaluation failed, scoring zero")
	return &record.Evaluation{
		Env:   envName,
		Score: 0,
		Extra: map[string]any{
			"error":             err.Error(),
			"evaluation_failed": true,
		},
	}
}

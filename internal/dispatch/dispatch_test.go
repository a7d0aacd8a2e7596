package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/tensorplex-labs/affine/internal/env"
	"github.com/tensorplex-labs/affine/internal/record"
)

const okBody = `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"x1=True"},"finish_reason":"stop"}]}`

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func newDispatcher(t *testing.T, url string, retries int, limit int64, envs env.Registry) (*Dispatcher, *sleepRecorder) {
	t.Helper()
	d := New(Config{
		BaseURL: url + "/v1",
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
		Retries: retries,
		Backoff: 100 * time.Millisecond,
	}, semaphore.NewWeighted(limit), envs)
	rec := &sleepRecorder{}
	d.sleep = rec.sleep
	return d, rec
}

func miner(uid int) record.Miner {
	return record.Miner{UID: uid, Hotkey: fmt.Sprintf("5hk%d", uid), Model: "org/affine-x", Endpoint: "slug"}
}

func TestQuerySuccess(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/chat/completions" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Model != "org/affine-x" ||
			len(body.Messages) != 1 || body.Messages[0].Role != "user" || body.Messages[0].Content != "hello" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(okBody))
	}))
	t.Cleanup(ts.Close)

	d, rec := newDispatcher(t, ts.URL, 2, 4, nil)
	resp := d.Query(context.Background(), "hello", miner(1))

	require.True(t, resp.Success, "error: %s", resp.ErrorText())
	assert.Equal(t, "x1=True", resp.Text())
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, "org/affine-x", resp.Model)
	assert.Nil(t, resp.Error)
	assert.Empty(t, rec.waits)
	assert.Equal(t, int64(1), calls.Load())
}

func TestQueryTerminalStatusShortCircuits(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusGone} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			var calls atomic.Int64
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(status)
				w.Write([]byte("gone fishing"))
			}))
			t.Cleanup(ts.Close)

			d, rec := newDispatcher(t, ts.URL, 5, 4, nil)
			resp := d.Query(context.Background(), "hello", miner(1))

			assert.False(t, resp.Success)
			assert.Equal(t, 1, resp.Attempts)
			assert.Equal(t, int64(1), calls.Load())
			assert.Empty(t, rec.waits, "no backoff after a terminal status")
			assert.True(t, strings.HasPrefix(resp.ErrorText(), fmt.Sprintf("%d:", status)), resp.ErrorText())
			assert.Nil(t, resp.Response)
		})
	}
}

func TestQueryRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(okBody))
	}))
	t.Cleanup(ts.Close)

	d, rec := newDispatcher(t, ts.URL, 2, 4, nil)
	resp := d.Query(context.Background(), "hello", miner(1))

	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Attempts)
	require.Len(t, rec.waits, 1)
	assert.InDelta(t, float64(100*time.Millisecond), float64(rec.waits[0]), float64(10*time.Millisecond))
}

func TestQueryExhaustsRetries(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	d, rec := newDispatcher(t, ts.URL, 2, 4, nil)
	resp := d.Query(context.Background(), "hello", miner(1))

	assert.False(t, resp.Success)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, int64(3), calls.Load())
	require.Len(t, rec.waits, 2)
	assert.InDelta(t, float64(200*time.Millisecond), float64(rec.waits[1]), float64(20*time.Millisecond))
	assert.True(t, strings.HasPrefix(resp.ErrorText(), "500:"), resp.ErrorText())
}

func TestBackoffJitterBounds(t *testing.T) {
	base := time.Second
	for attempt := 1; attempt <= 4; attempt++ {
		want := float64(base) * float64(int(1)<<(attempt-1))
		for range 50 {
			got := float64(Backoff(base, attempt))
			assert.GreaterOrEqual(t, got, want*0.9)
			assert.LessOrEqual(t, got, want*1.1)
		}
	}
}

func TestQueryRespectsGate(t *testing.T) {
	var inFlight, peak atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(okBody))
	}))
	t.Cleanup(ts.Close)

	reg := env.Registry{"E": stubEnv{score: 1}}
	d, _ := newDispatcher(t, ts.URL, 0, 2, reg)

	var miners []record.Miner
	for uid := range 8 {
		miners = append(miners, miner(uid))
	}
	chal, err := record.NewChallenge("E", "p", nil)
	require.NoError(t, err)

	results := d.Run(context.Background(), []*record.Challenge{chal}, miners)
	assert.Len(t, results, 8)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

type stubEnv struct {
	score float64
	err   error
	panic bool
}

func (s stubEnv) Name() string { return "E" }

func (s stubEnv) Generate(context.Context) (*record.Challenge, error) {
	return record.NewChallenge("E", "p", nil)
}

func (s stubEnv) Evaluate(_ context.Context, c *record.Challenge, _ *record.Response) (*record.Evaluation, error) {
	if s.panic {
		panic("grader exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	return &record.Evaluation{Env: c.Env, Score: s.score}, nil
}

func TestRunSubstitutesFailedEvaluation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(okBody))
	}))
	t.Cleanup(ts.Close)

	cases := map[string]stubEnv{
		"error": {err: errors.New("grader broke")},
		"panic": {panic: true},
	}
	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			d, _ := newDispatcher(t, ts.URL, 0, 4, env.Registry{"E": e})
			chal, err := record.NewChallenge("E", "p", nil)
			require.NoError(t, err)

			results := d.Run(context.Background(), []*record.Challenge{chal}, []record.Miner{miner(1), miner(2)})
			require.Len(t, results, 2)
			for _, r := range results {
				assert.Zero(t, r.Evaluation.Score)
				assert.Equal(t, true, r.Evaluation.Extra["evaluation_failed"])
				assert.NotEmpty(t, r.Evaluation.Extra["error"])
				assert.True(t, r.Response.Success)
			}
		})
	}
}

func TestRunSkipsMinersWithoutModel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(okBody))
	}))
	t.Cleanup(ts.Close)

	d, _ := newDispatcher(t, ts.URL, 0, 4, env.Registry{"E": stubEnv{score: 0.5}})
	c1, err := record.NewChallenge("E", "p1", nil)
	require.NoError(t, err)
	c2, err := record.NewChallenge("E", "p2", nil)
	require.NoError(t, err)

	noModel := miner(9)
	noModel.Model = ""
	results := d.Run(context.Background(), []*record.Challenge{c1, c2}, []record.Miner{miner(1), noModel})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, 1, r.Miner.UID)
		assert.Equal(t, 0.5, r.Evaluation.Score)
		assert.Equal(t, record.SchemaVersion, r.Version)
	}
}

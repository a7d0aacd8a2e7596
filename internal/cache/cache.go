// Package cache mirrors ledger shards on local disk as newline-delimited JSON.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/tensorplex-labs/affine/internal/ledger"
)

const DefaultConcurrency = 25

const (
	shardExt = ".jsonl"
	stampExt = ".version"
	tmpExt   = ".tmp"
)

// Cache is a local mirror of remote shards. Every network operation goes
// through the shared transfer gate.
type Cache struct {
	store ledger.Store
	dir   string
	gate  *semaphore.Weighted
	group singleflight.Group
}

// New creates the cache directory if needed. gate bounds concurrent transfers
// for every fetch issued through this cache.
func New(store ledger.Store, dir string, gate *semaphore.Weighted) (*Cache, error) {
	if gate == nil {
		gate = semaphore.NewWeighted(DefaultConcurrency)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Cache{store: store, dir: dir, gate: gate}, nil
}

func (c *Cache) Dir() string { return c.dir }

// Path is the local file backing key.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, path.Base(key)+shardExt)
}

func (c *Cache) stampPath(key string) string {
	return filepath.Join(c.dir, path.Base(key)+stampExt)
}

// Fetch returns the local path of key, transferring it only when the remote
// object changed since the last fetch. Transfer errors are returned as is.
func (c *Cache) Fetch(ctx context.Context, key string) (string, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.fetch(ctx, key)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) fetch(ctx context.Context, key string) (string, error) {
	out := c.Path(key)
	stamp := c.stampPath(key)

	if fileExists(out) && fileExists(stamp) {
		head, err := c.head(ctx, key)
		if err != nil {
			return "", err
		}
		stored, err := os.ReadFile(stamp)
		if err == nil && strings.TrimSpace(string(stored)) == head.Version {
			log.Trace().Str("key", key).Msg("cache hit")
			return out, nil
		}
	}

	obj, err := c.get(ctx, key)
	if err != nil {
		return "", err
	}

	var entries []json.RawMessage
	if err := sonic.Unmarshal(obj.Body, &entries); err != nil {
		return "", fmt.Errorf("decode shard %s: %w", key, err)
	}

	var buf bytes.Buffer
	for _, e := range entries {
		if err := json.Compact(&buf, e); err != nil {
			return "", fmt.Errorf("compact shard %s entry: %w", key, err)
		}
		buf.WriteByte('\n')
	}

	tmp := filepath.Join(c.dir, path.Base(key)+tmpExt)
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, out); err != nil {
		return "", fmt.Errorf("rename %s: %w", tmp, err)
	}
	if err := os.WriteFile(stamp, []byte(obj.Version), 0o644); err != nil {
		return "", fmt.Errorf("write stamp %s: %w", stamp, err)
	}

	log.Debug().Str("key", key).Int("entries", len(entries)).Msg("shard cached")
	return out, nil
}

func (c *Cache) head(ctx context.Context, key string) (*ledger.Object, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.gate.Release(1)
	return c.store.Head(ctx, key)
}

func (c *Cache) get(ctx context.Context, key string) (*ledger.Object, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.gate.Release(1)
	return c.store.Get(ctx, key)
}

// Prefetch fetches every key concurrently. Individual failures are logged and
// reported together once all fetches finished.
func (c *Cache) Prefetch(ctx context.Context, keys []string) error {
	var (
		g      errgroup.Group
		failed atomic.Int64
		errs   = make([]error, len(keys))
	)
	for i, key := range keys {
		g.Go(func() error {
			if _, err := c.Fetch(ctx, key); err != nil {
				failed.Add(1)
				errs[i] = fmt.Errorf("%s: %w", key, err)
				log.Warn().Err(err).Str("key", key).Msg("prefetch failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("prefetch: %d of %d shards failed: %w", n, len(keys), errors.Join(errs...))
	}
	return nil
}

// Prune deletes cached shards whose window starts before currentBlock-tail.
func (c *Cache) Prune(currentBlock, tail int) (int, error) {
	bound := currentBlock - tail
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, shardExt) {
			continue
		}
		w, ok := ledger.WindowOfKey(name)
		if !ok || w >= bound {
			continue
		}
		base := strings.TrimSuffix(name, shardExt)
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", name).Msg("failed to prune cached shard")
			continue
		}
		_ = os.Remove(filepath.Join(c.dir, base+stampExt))
		removed++
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Int("bound", bound).Msg("pruned cache")
	}
	return removed, nil
}

// Size is the total size in bytes of cached shard files.
func (c *Cache) Size() (int64, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), shardExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

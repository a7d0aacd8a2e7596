package ledger

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

const DefaultWindow = 20

// Ledger names shards and maintains the shard index on top of a Store.
type Ledger struct {
	store  Store
	window int
	prefix string
}

// New returns a Ledger writing keys under prefix (e.g. "affine/").
func New(store Store, window int, prefix string) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ledger{store: store, window: window, prefix: prefix}
}

func (l *Ledger) Store() Store { return l.store }
func (l *Ledger) WindowSize() int { return l.window }

// Window returns the start of the window containing block.
func (l *Ledger) Window(block int) int {
	q := block / l.window
	if block%l.window != 0 && block < 0 {
		q--
	}
	return q * l.window
}

// ShardKey is the key holding the results signer produced during block's window.
func (l *Ledger) ShardKey(block int, signer string) string {
	return fmt.Sprintf("%sresults/%09d-%s.json", l.prefix, l.Window(block), signer)
}

// IndexKey is the well-known key of the shard index.
func (l *Ledger) IndexKey() string {
	return l.prefix + "index.json"
}

// WindowOfKey parses the numeric window prefix of a shard key's base name.
func WindowOfKey(key string) (int, bool) {
	head, _, _ := strings.Cut(path.Base(key), "-")
	if head == "" {
		return 0, false
	}
	for _, r := range head {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	w, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return w, true
}

// Index returns the shard keys registered so far. A missing index is empty.
func (l *Ledger) Index(ctx context.Context) ([]string, error) {
	obj, err := l.store.Get(ctx, l.IndexKey())
	if errors.Is(err, ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get index: %w", err)
	}

	var keys []string
	if err := sonic.Unmarshal(obj.Body, &keys); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return keys, nil
}

// UpdateIndex adds key to the index with a read-modify-write. It is a no-op
// when the key is already registered. Concurrent first writers may drop each
// other's additions; the next update from either writer restores them.
func (l *Ledger) UpdateIndex(ctx context.Context, key string) error {
	keys, err := l.Index(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}

	keys = append(keys, key)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	body, err := sonic.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := l.store.Put(ctx, l.IndexKey(), body); err != nil {
		return fmt.Errorf("put index: %w", err)
	}
	log.Debug().Str("key", key).Int("size", len(keys)).Msg("registered shard in index")
	return nil
}

// ShardKeys returns the indexed shards whose window lies in
// [currentBlock-tail, currentBlock], sorted ascending.
func (l *Ledger) ShardKeys(ctx context.Context, currentBlock, tail int) ([]string, error) {
	keys, err := l.Index(ctx)
	if err != nil {
		return nil, err
	}

	lo, hi := l.Window(currentBlock-tail), l.Window(currentBlock)
	var out []string
	for _, k := range keys {
		w, ok := WindowOfKey(k)
		if !ok || w < lo || w > hi || (w-lo)%l.window != 0 {
			continue
		}
		out = append(out, k)
	}
	slices.Sort(out)
	return out, nil
}

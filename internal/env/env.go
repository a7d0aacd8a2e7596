// Package env defines the environment capability and the registry of
// environments known to this build.
package env

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tensorplex-labs/affine/internal/record"
)

var ErrUnknownEnvironment = errors.New("unknown environment")

// Environment generates challenges and grades responses to them.
type Environment interface {
	Name() string
	Generate(ctx context.Context) (*record.Challenge, error)
	Evaluate(ctx context.Context, c *record.Challenge, r *record.Response) (*record.Evaluation, error)
}

var builtin = map[string]func() Environment{
	"SAT": func() Environment { return NewSAT(DefaultSATConfig()) },
}

// Registry maps environment names to implementations. It is built once at
// startup and only read afterwards.
type Registry map[string]Environment

// NewRegistry builds a registry containing the named built-in environments.
func NewRegistry(names ...string) (Registry, error) {
	reg := make(Registry, len(names))
	for _, raw := range names {
		name := strings.ToUpper(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		ctor, ok := builtin[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEnvironment, raw)
		}
		reg[name] = ctor()
	}
	if len(reg) == 0 {
		return nil, fmt.Errorf("no environments enabled")
	}
	return reg, nil
}

// Get returns the environment registered under name.
func (r Registry) Get(name string) (Environment, error) {
	e, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEnvironment, name)
	}
	return e, nil
}

// Names returns the registered names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

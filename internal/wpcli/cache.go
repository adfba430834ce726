package wpcli

import (
	"context"
	"fmt"
	"sort"

	"github.com/livinlefevreloca/upkeep/internal/cache"
)

// Presets are the cache plugins with a known flush command
var Presets = map[string][]string{
	"w3-total-cache": {"w3-total-cache", "flush", "all"},
	"wp-rocket":      {"rocket", "clean", "--confirm"},
	"wp-super-cache": {"super-cache", "flush"},
	"wp-optimize":    {"wpo", "cache", "purge"},
}

// ObjectCacheArgs flushes the WordPress object cache
var ObjectCacheArgs = []string{"cache", "flush"}

// CacheCommand is a cache.Backend that runs a wp subcommand
type CacheCommand struct {
	name   string
	args   []string
	client *Client
}

// NewCacheCommand creates a backend running args
func (c *Client) NewCacheCommand(name string, args []string) *CacheCommand {
	return &CacheCommand{name: name, args: args, client: c}
}

// Name returns the backend name
func (b *CacheCommand) Name() string {
	return b.name
}

// TryInvalidate runs the flush command. A subcommand that wp does not know
// means the cache plugin is not installed.
func (b *CacheCommand) TryInvalidate(ctx context.Context) (bool, error) {
	_, err := b.client.Run(ctx, b.args...)
	switch {
	case err == nil:
		return true, nil
	case IsUnknownCommand(err):
		return false, nil
	default:
		return false, err
	}
}

// Factory builds CacheCommand backends from [[cache.backends]] entries
// with type "wpcli", by preset name or explicit args.
func (c *Client) Factory() cache.Factory {
	return func(spec cache.BackendSpec) (cache.Backend, error) {
		args := spec.Args
		if len(args) == 0 {
			preset, ok := Presets[spec.Preset]
			if !ok {
				return nil, fmt.Errorf("unknown preset %q (known: %v)", spec.Preset, presetNames())
			}
			args = preset
		}

		name := spec.Name
		if name == "" {
			name = spec.Preset
		}
		if name == "" {
			name = "wpcli"
		}
		return c.NewCacheCommand(name, args), nil
	}
}

func presetNames() []string {
	names := make([]string, 0, len(Presets))
	for n := range Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

package lookup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrLookupUnavailable means a lookup table could not be read. Every coded
// field of a job depends on its table, so the run cannot start.
var ErrLookupUnavailable = errors.New("lookup table unavailable")

// Cache holds the lookup tables of one run. Each table is read at most once.
type Cache struct {
	repo   Repository
	logger zerolog.Logger

	mu     sync.Mutex
	tables map[string]*Table
}

func NewCache(repo Repository, logger zerolog.Logger) *Cache {
	return &Cache{repo: repo, logger: logger, tables: make(map[string]*Table)}
}

// Load returns the named table, reading it on first use.
func (c *Cache) Load(ctx context.Context, name string) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tables[name]; ok {
		return t, nil
	}
	entries, err := c.repo.LoadTable(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLookupUnavailable, name, err)
	}
	t := NewTable(name, entries)
	c.tables[name] = t
	c.logger.Debug().Str("table", name).Int("entries", t.Len()).Msg("lookup table loaded")
	return t, nil
}

// Preload loads every named table and stops at the first failure.
func (c *Cache) Preload(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := c.Load(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Loaded returns the cached table without touching the store.
func (c *Cache) Loaded(name string) (*Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	return t, ok
}

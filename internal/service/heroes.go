package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dotabank/dotabank/internal/steam"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// HeroSource fetches the hero reference list.
type HeroSource interface {
	GetHeroes(ctx context.Context) ([]steam.Hero, error)
}

const heroListKey = "heroes"

// HeroCatalog is a read-through cache over the hero list.
type HeroCatalog struct {
	source HeroSource
	cache  *expirable.LRU[string, map[int]steam.Hero]
	mu     sync.Mutex
}

func NewHeroCatalog(source HeroSource, ttl time.Duration) *HeroCatalog {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HeroCatalog{
		source: source,
		cache:  expirable.NewLRU[string, map[int]steam.Hero](1, nil, ttl),
	}
}

func (c *HeroCatalog) load(ctx context.Context) (map[int]steam.Hero, error) {
	if heroes, ok := c.cache.Get(heroListKey); ok {
		return heroes, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if heroes, ok := c.cache.Get(heroListKey); ok {
		return heroes, nil
	}

	list, err := c.source.GetHeroes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load heroes: %w", err)
	}
	heroes := make(map[int]steam.Hero, len(list))
	for _, h := range list {
		heroes[h.ID] = h
	}
	c.cache.Add(heroListKey, heroes)
	return heroes, nil
}

// Lookup returns the hero with id and whether it exists.
func (c *HeroCatalog) Lookup(ctx context.Context, id int) (steam.Hero, bool, error) {
	heroes, err := c.load(ctx)
	if err != nil {
		return steam.Hero{}, false, err
	}
	h, ok := heroes[id]
	return h, ok, nil
}

// All returns every hero ordered by id.
func (c *HeroCatalog) All(ctx context.Context) ([]steam.Hero, error) {
	heroes, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]steam.Hero, 0, len(heroes))
	for _, h := range heroes {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Refresh drops the cached list; the next read refetches it.
func (c *HeroCatalog) Refresh() {
	c.cache.Purge()
}

package places

import (
	"context"
	"strings"
	"sync"

	"hailing/internal/types"
)

type MemoryCatalog struct {
	mu     sync.RWMutex
	places map[types.ID]*Place
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{places: make(map[types.ID]*Place)}
}

func (c *MemoryCatalog) Candidates(_ context.Context, query string, withCategory bool, bounds *types.Bounds) ([]Place, error) {
	q := strings.ToLower(query)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Place
	for _, p := range c.places {
		if !p.Active {
			continue
		}
		if bounds != nil && !bounds.Contains(types.Point{Lat: p.Lat, Lng: p.Lng}) {
			continue
		}
		if strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(p.aliasText(), q) ||
			(withCategory && strings.Contains(strings.ToLower(p.Category), q)) {
			out = append(out, *p.clone())
		}
	}
	return out, nil
}

func (c *MemoryCatalog) Create(_ context.Context, p *Place) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.places {
		if strings.EqualFold(existing.Name, p.Name) {
			return duplicate(p.Name)
		}
	}
	c.places[p.ID] = p.clone()
	return nil
}

package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cryptodash/internal/domain"
)

// LayoutsKey is the key the layout mirror is stored under.
const LayoutsKey = "dashboardLayouts"

// LayoutMirror is a recovery cache of widget layouts keyed by dashboard key
// and widget id. It is held in memory and written through to a KV on every
// change, so a layout survives a restart even if the server never saw it.
type LayoutMirror struct {
	mu      sync.RWMutex
	layouts map[string]map[string]domain.GridRect // dashboard -> widget -> rect
	kv      KV
	log     *slog.Logger
}

// NewLayoutMirror creates a mirror, loading persisted state from kv. A
// corrupt record is logged and discarded.
func NewLayoutMirror(ctx context.Context, kv KV, log *slog.Logger) (*LayoutMirror, error) {
	m := &LayoutMirror{
		layouts: make(map[string]map[string]domain.GridRect),
		kv:      kv,
		log:     log,
	}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Layouts returns a copy of the mirrored layouts of one dashboard.
func (m *LayoutMirror) Layouts(dashboardKey string) map[string]domain.GridRect {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.layouts[dashboardKey]
	out := make(map[string]domain.GridRect, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// SaveLayouts replaces the mirrored layouts of a dashboard with those of
// widgets and persists the mirror.
func (m *LayoutMirror) SaveLayouts(ctx context.Context, dashboardKey string, widgets []domain.Widget) error {
	entry := make(map[string]domain.GridRect, len(widgets))
	for _, w := range widgets {
		entry[w.ID] = w.Layout
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.layouts[dashboardKey] = entry
	return m.flush(ctx)
}

// Forget drops a dashboard from the mirror.
func (m *LayoutMirror) Forget(ctx context.Context, dashboardKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.layouts[dashboardKey]; !ok {
		return nil
	}
	delete(m.layouts, dashboardKey)
	return m.flush(ctx)
}

func (m *LayoutMirror) load(ctx context.Context) error {
	raw, err := m.kv.Get(ctx, LayoutsKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading layout mirror: %w", err)
	}
	var loaded map[string]map[string]domain.GridRect
	if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
		m.log.Warn("discarding corrupt layout mirror", "error", err)
		return nil
	}
	if loaded != nil {
		m.layouts = loaded
	}
	m.log.Info("loaded layout mirror", "dashboards", len(m.layouts))
	return nil
}

// flush writes the mirror to the KV. Caller must hold m.mu.
func (m *LayoutMirror) flush(ctx context.Context) error {
	data, err := json.Marshal(m.layouts)
	if err != nil {
		return fmt.Errorf("encoding layout mirror: %w", err)
	}
	return m.kv.Set(ctx, LayoutsKey, string(data))
}

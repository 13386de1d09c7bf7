// Package alerts manages the user's price alerts and evaluates them against
// live prices.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"cryptodash/internal/domain"
)

// Remote is the alert part of the user API.
type Remote interface {
	Alerts(ctx context.Context) ([]domain.PriceAlert, error)
	CreateAlert(ctx context.Context, a domain.PriceAlert) (domain.PriceAlert, error)
	UpdateAlert(ctx context.Context, a domain.PriceAlert) error
	DeleteAlert(ctx context.Context, id string) error
}

// Manager is a validated, locally cached view of the user's alerts.
type Manager struct {
	mu     sync.RWMutex
	alerts []domain.PriceAlert
	remote Remote
	log    *slog.Logger
}

// NewManager creates an empty manager. Call Load to fetch the server copy.
func NewManager(remote Remote, log *slog.Logger) *Manager {
	return &Manager{remote: remote, log: log}
}

// Load replaces the local list with the server's.
func (m *Manager) Load(ctx context.Context) error {
	as, err := m.remote.Alerts(ctx)
	if err != nil {
		return fmt.Errorf("loading alerts: %w", err)
	}
	m.mu.Lock()
	m.alerts = as
	m.mu.Unlock()
	return nil
}

// List returns the cached alerts.
func (m *Manager) List() []domain.PriceAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.alerts)
}

// ForCoin returns the cached alerts on coin.
func (m *Manager) ForCoin(coin string) []domain.PriceAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.PriceAlert
	for _, a := range m.alerts {
		if a.CoinID == coin {
			out = append(out, a)
		}
	}
	return out
}

// Create validates and stores a new alert.
func (m *Manager) Create(ctx context.Context, a domain.PriceAlert) (domain.PriceAlert, error) {
	if err := a.Validate(); err != nil {
		return domain.PriceAlert{}, err
	}
	created, err := m.remote.CreateAlert(ctx, a)
	if err != nil {
		return domain.PriceAlert{}, fmt.Errorf("creating alert on %s: %w", a.CoinID, err)
	}
	m.mu.Lock()
	m.alerts = append(m.alerts, created)
	m.mu.Unlock()
	m.log.Info("alert created", "id", created.ID, "coin", created.CoinID, "type", created.Type)
	return created, nil
}

// Update validates and replaces an alert.
func (m *Manager) Update(ctx context.Context, a domain.PriceAlert) error {
	if a.ID == "" {
		return fmt.Errorf("%w: id is required", domain.ErrInvalidAlert)
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if err := m.remote.UpdateAlert(ctx, a); err != nil {
		return fmt.Errorf("updating alert %s: %w", a.ID, err)
	}
	m.mu.Lock()
	if i := m.indexLocked(a.ID); i >= 0 {
		m.alerts[i] = a
	}
	m.mu.Unlock()
	return nil
}

// Delete removes an alert.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.remote.DeleteAlert(ctx, id); err != nil {
		return fmt.Errorf("deleting alert %s: %w", id, err)
	}
	m.forget(id)
	return nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexLocked(id); i >= 0 {
		m.alerts = slices.Delete(m.alerts, i, i+1)
	}
}

func (m *Manager) indexLocked(id string) int {
	return slices.IndexFunc(m.alerts, func(a domain.PriceAlert) bool { return a.ID == id })
}

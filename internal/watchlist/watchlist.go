// Package watchlist keeps the signed-in user's tracked coins. Changes are
// applied locally before the server confirms them and are not rolled back on
// failure; the error is returned for the caller to surface.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"cryptodash/internal/userapi"
)

// Remote is the watchlist part of the user API.
type Remote interface {
	Watchlist(ctx context.Context) ([]string, error)
	UpdateWatchlist(ctx context.Context, coin string, action userapi.WatchlistAction) error
}

// Manager is the local copy of the watchlist.
type Manager struct {
	mu     sync.RWMutex
	coins  []string
	remote Remote
	log    *slog.Logger
}

// New creates an empty manager. Call Load to fetch the server copy.
func New(remote Remote, log *slog.Logger) *Manager {
	return &Manager{remote: remote, log: log}
}

// Load replaces the local list with the server's.
func (m *Manager) Load(ctx context.Context) error {
	coins, err := m.remote.Watchlist(ctx)
	if err != nil {
		return fmt.Errorf("loading watchlist: %w", err)
	}
	m.mu.Lock()
	m.coins = dedupe(coins)
	m.mu.Unlock()
	m.log.Info("watchlist loaded", "coins", len(coins))
	return nil
}

// Coins returns the tracked coins in insertion order.
func (m *Manager) Coins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.coins)
}

// Contains reports whether coin is tracked.
func (m *Manager) Contains(coin string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.coins, normalize(coin))
}

// Add tracks coin. Adding a tracked coin is a no-op.
func (m *Manager) Add(ctx context.Context, coin string) error {
	coin = normalize(coin)
	if coin == "" {
		return errors.New("watchlist: empty coin id")
	}
	m.mu.Lock()
	if slices.Contains(m.coins, coin) {
		m.mu.Unlock()
		return nil
	}
	m.coins = append(m.coins, coin)
	m.mu.Unlock()
	return m.push(ctx, coin, userapi.WatchlistAdd)
}

// Remove stops tracking coin. Removing an untracked coin is a no-op.
func (m *Manager) Remove(ctx context.Context, coin string) error {
	coin = normalize(coin)
	m.mu.Lock()
	i := slices.Index(m.coins, coin)
	if i < 0 {
		m.mu.Unlock()
		return nil
	}
	m.coins = slices.Delete(m.coins, i, i+1)
	m.mu.Unlock()
	return m.push(ctx, coin, userapi.WatchlistRemove)
}

// Toggle adds coin when absent and removes it when present, returning
// whether it is tracked afterwards.
func (m *Manager) Toggle(ctx context.Context, coin string) (bool, error) {
	if m.Contains(coin) {
		return false, m.Remove(ctx, coin)
	}
	return true, m.Add(ctx, coin)
}

func (m *Manager) push(ctx context.Context, coin string, action userapi.WatchlistAction) error {
	if err := m.remote.UpdateWatchlist(ctx, coin, action); err != nil {
		m.log.Error("watchlist update failed", "coin", coin, "action", action, "error", err)
		return fmt.Errorf("watchlist %s %s: %w", action, coin, err)
	}
	return nil
}

func normalize(coin string) string {
	return strings.ToLower(strings.TrimSpace(coin))
}

func dedupe(coins []string) []string {
	out := make([]string, 0, len(coins))
	for _, c := range coins {
		c = normalize(c)
		if c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

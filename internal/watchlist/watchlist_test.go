package watchlist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptodash/internal/userapi"
	"cryptodash/internal/util"
)

type call struct {
	coin   string
	action userapi.WatchlistAction
}

type fakeRemote struct {
	initial []string
	calls   []call
	err     error
}

func (f *fakeRemote) Watchlist(context.Context) ([]string, error) { return f.initial, nil }

func (f *fakeRemote) UpdateWatchlist(_ context.Context, coin string, action userapi.WatchlistAction) error {
	f.calls = append(f.calls, call{coin, action})
	return f.err
}

func TestLoadDedupes(t *testing.T) {
	m := New(&fakeRemote{initial: []string{"bitcoin", "Bitcoin ", "ethereum", ""}}, util.Discard())
	require.NoError(t, m.Load(context.Background()))
	assert.Equal(t, []string{"bitcoin", "ethereum"}, m.Coins())
}

func TestAddRemoveToggle(t *testing.T) {
	remote := &fakeRemote{}
	m := New(remote, util.Discard())
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, "bitcoin"))
	require.NoError(t, m.Add(ctx, "bitcoin"))
	assert.Equal(t, []string{"bitcoin"}, m.Coins())

	on, err := m.Toggle(ctx, "solana")
	require.NoError(t, err)
	assert.True(t, on)
	on, err = m.Toggle(ctx, "bitcoin")
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, m.Remove(ctx, "dogecoin"))
	assert.Equal(t, []string{"solana"}, m.Coins())
	assert.Equal(t, []call{
		{"bitcoin", userapi.WatchlistAdd},
		{"solana", userapi.WatchlistAdd},
		{"bitcoin", userapi.WatchlistRemove},
	}, remote.calls)
}

func TestFailureIsNotRolledBack(t *testing.T) {
	remote := &fakeRemote{err: errors.New("offline")}
	m := New(remote, util.Discard())

	err := m.Add(context.Background(), "cardano")
	require.Error(t, err)
	assert.True(t, m.Contains("cardano"))
}

package layout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptodash/internal/domain"
	"cryptodash/internal/util"
)

type fakeRemote struct {
	mu    sync.Mutex
	calls []domain.DashboardUpdate
	keys  []string
	err   error
}

func (f *fakeRemote) UpdateDashboard(_ context.Context, key string, upd domain.DashboardUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, upd)
	f.keys = append(f.keys, key)
	return f.err
}

func (f *fakeRemote) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRemote) last() domain.DashboardUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeMirror struct {
	mu    sync.Mutex
	saved map[string][]domain.Widget
}

func (m *fakeMirror) SaveLayouts(_ context.Context, key string, ws []domain.Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string][]domain.Widget)
	}
	m.saved[key] = ws
	return nil
}

func (m *fakeMirror) get(key string) []domain.Widget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[key]
}

func twoWidgetDashboard() domain.Dashboard {
	return Normalize(domain.Dashboard{
		ID:   "d1",
		UUID: "7f1c",
		Name: "Main",
		Type: domain.DashboardPrice,
		Widgets: []domain.Widget{
			{ID: "widget-7f1c-0", Coin: "bitcoin"},
			{ID: "widget-7f1c-1", Coin: "ethereum"},
		},
	}, nil)
}

func newStore(t *testing.T, d domain.Dashboard, debounce time.Duration) (*Store, *fakeRemote, *fakeMirror) {
	t.Helper()
	remote := &fakeRemote{}
	mirror := &fakeMirror{}
	s := New(d, remote, mirror, Options{Debounce: debounce}, util.Discard())
	return s, remote, mirror
}

func assertNoOverlap(t *testing.T, ws []domain.Widget) {
	t.Helper()
	for i := range ws {
		require.NoError(t, ws[i].Layout.Validate(), ws[i].ID)
		assert.LessOrEqual(t, ws[i].Layout.X+ws[i].Layout.W, DefaultColumns, ws[i].ID)
		for j := i + 1; j < len(ws); j++ {
			assert.False(t, ws[i].Layout.Overlaps(ws[j].Layout), "%s overlaps %s", ws[i].ID, ws[j].ID)
		}
	}
}

func TestRapidMovesCoalesceIntoOnePut(t *testing.T) {
	s, remote, _ := newStore(t, twoWidgetDashboard(), 50*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.MoveOrResize(ctx, []Change{{ID: "widget-7f1c-1", X: i % 7, Y: 0, W: 5, H: 4}}))
	}
	assert.Equal(t, 0, remote.count())
	assert.True(t, s.Pending())

	require.Eventually(t, func() bool { return remote.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, remote.count())
	assert.False(t, s.Pending())

	got := remote.last()
	assert.Nil(t, got.Name)
	for _, w := range got.Widgets {
		if w.ID == "widget-7f1c-1" {
			assert.Equal(t, 9%7, w.Layout.X)
			assert.Equal(t, 5, w.Layout.W)
		}
	}
	assert.Equal(t, "7f1c", remote.keys[0])
}

func TestAddWidgetGoesBelowLowestRow(t *testing.T) {
	s, remote, mirror := newStore(t, twoWidgetDashboard(), time.Hour)

	w, err := s.AddWidget(context.Background(), WidgetSpec{Coin: "solana"})
	require.NoError(t, err)
	assert.Equal(t, "widget-7f1c-2", w.ID)
	assert.Equal(t, "Solana Price Chart", w.Title)
	assert.Equal(t, domain.Period7D, w.Period)
	assert.Equal(t, domain.ChartReal, w.ChartType)
	assert.Equal(t, domain.GridRect{X: 0, Y: 4, W: 6, H: 4, MinW: 3, MinH: 3}, w.Layout)

	require.Equal(t, 1, remote.count())
	assert.Len(t, remote.last().Widgets, 3)
	assert.Len(t, mirror.get("7f1c"), 3)
}

func TestWidgetIDsStayUniqueAfterRemoval(t *testing.T) {
	s, _, _ := newStore(t, twoWidgetDashboard(), time.Hour)
	ctx := context.Background()

	require.NoError(t, s.RemoveWidget(ctx, "widget-7f1c-0"))
	w, err := s.AddWidget(ctx, WidgetSpec{Coin: "cardano"})
	require.NoError(t, err)
	assert.Equal(t, "widget-7f1c-2", w.ID)

	ids := map[string]bool{}
	for _, w := range s.Widgets() {
		assert.False(t, ids[w.ID], "duplicate id %s", w.ID)
		ids[w.ID] = true
	}
}

func TestRemoveCompactsRemainingWidgets(t *testing.T) {
	d := twoWidgetDashboard()
	d.Widgets = append(d.Widgets, domain.Widget{ID: "widget-7f1c-2", Coin: "solana", Layout: domain.GridRect{X: 0, Y: 4, W: 6, H: 4, MinW: 3, MinH: 3}})
	s, _, _ := newStore(t, d, time.Hour)

	require.NoError(t, s.RemoveWidget(context.Background(), "widget-7f1c-0"))
	ws := s.Widgets()
	require.Len(t, ws, 2)
	assert.Equal(t, 0, ws[1].Layout.Y, "solana floats into the freed slot")
	assertNoOverlap(t, ws)

	err := s.RemoveWidget(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownWidget)
}

func TestMoveResolvesCollisions(t *testing.T) {
	s, _, mirror := newStore(t, twoWidgetDashboard(), time.Hour)

	// Drop ethereum on top of bitcoin; bitcoin is pushed below it.
	require.NoError(t, s.MoveOrResize(context.Background(), []Change{{ID: "widget-7f1c-1", X: 0, Y: 0, W: 6, H: 4}}))
	ws := s.Widgets()
	assertNoOverlap(t, ws)
	assert.Equal(t, 0, ws[1].Layout.Y)
	assert.Equal(t, 4, ws[0].Layout.Y)
	assert.Equal(t, "widget-7f1c-0", ws[0].ID, "slice order is preserved")
	assert.Len(t, mirror.get("7f1c"), 2)
}

func TestMoveClampsToGrid(t *testing.T) {
	s, _, _ := newStore(t, twoWidgetDashboard(), time.Hour)

	require.NoError(t, s.MoveOrResize(context.Background(), []Change{{ID: "widget-7f1c-0", X: 10, Y: -3, W: 1, H: 1}}))
	r := s.Widgets()[0].Layout
	assert.Equal(t, 3, r.W, "minW")
	assert.Equal(t, 3, r.H, "minH")
	assert.Equal(t, 9, r.X)
	assertNoOverlap(t, s.Widgets())
}

func TestMoveUnknownWidgetAppliesNothing(t *testing.T) {
	s, _, _ := newStore(t, twoWidgetDashboard(), time.Hour)
	before := s.Widgets()

	err := s.MoveOrResize(context.Background(), []Change{
		{ID: "widget-7f1c-0", X: 6, Y: 8, W: 6, H: 4},
		{ID: "ghost", X: 0, Y: 0, W: 6, H: 4},
	})
	assert.ErrorIs(t, err, ErrUnknownWidget)
	assert.Equal(t, before, s.Widgets())
	assert.False(t, s.Pending())
}

func TestRenameFallsBackToDefaults(t *testing.T) {
	s, remote, _ := newStore(t, twoWidgetDashboard(), time.Hour)
	ctx := context.Background()

	require.NoError(t, s.RenameWidget(ctx, "widget-7f1c-1", "ETH"))
	assert.Equal(t, "ETH", s.Widgets()[1].Title)
	require.NoError(t, s.RenameWidget(ctx, "widget-7f1c-1", "   "))
	assert.Equal(t, "Ethereum Price Chart", s.Widgets()[1].Title)
	assert.Nil(t, remote.last().Name)

	require.NoError(t, s.RenameDashboard(ctx, ""))
	assert.Equal(t, domain.DefaultDashboardName, s.Snapshot().Name)
	require.NotNil(t, remote.last().Name)
	assert.Equal(t, domain.DefaultDashboardName, *remote.last().Name)
}

func TestUpdateWidget(t *testing.T) {
	s, remote, _ := newStore(t, twoWidgetDashboard(), time.Hour)
	ctx := context.Background()

	coin := "dogecoin"
	period := domain.Period30D
	chart := domain.ChartPrediction
	w, err := s.UpdateWidget(ctx, "widget-7f1c-0", Patch{Coin: &coin, Period: &period, ChartType: &chart})
	require.NoError(t, err)
	assert.Equal(t, "Dogecoin Price Chart", w.Title)
	assert.Equal(t, domain.Period30D, w.Period)
	assert.Equal(t, domain.ChartPrediction, w.ChartType)
	assert.Equal(t, 1, remote.count())

	custom := domain.PeriodCustom
	_, err = s.UpdateWidget(ctx, "widget-7f1c-0", Patch{Period: &custom})
	assert.ErrorIs(t, err, ErrInvalidWidget)
	assert.Equal(t, domain.Period30D, s.Widgets()[0].Period)

	from, to := "2024-01-01", "2024-02-01"
	w, err = s.UpdateWidget(ctx, "widget-7f1c-0", Patch{Period: &custom, From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", w.To)
}

func TestWidgetIDsSurviveEdits(t *testing.T) {
	s, remote, _ := newStore(t, twoWidgetDashboard(), time.Hour)
	ctx := context.Background()
	ids := func(ws []domain.Widget) []string {
		out := make([]string, len(ws))
		for i, w := range ws {
			out[i] = w.ID
		}
		return out
	}
	before := ids(s.Widgets())

	require.NoError(t, s.RenameWidget(ctx, "widget-7f1c-0", "BTC"))
	require.NoError(t, s.MoveOrResize(ctx, []Change{{ID: "widget-7f1c-1", X: 0, Y: 0, W: 8, H: 5}}))
	coin := "solana"
	_, err := s.UpdateWidget(ctx, "widget-7f1c-0", Patch{Coin: &coin})
	require.NoError(t, err)
	require.NoError(t, s.Flush(ctx))

	assert.Equal(t, before, ids(s.Widgets()))
	assert.Equal(t, before, ids(remote.last().Widgets))
}

func TestFailedPersistKeepsLocalState(t *testing.T) {
	s, remote, _ := newStore(t, twoWidgetDashboard(), time.Hour)
	remote.err = errors.New("boom")

	_, err := s.AddWidget(context.Background(), WidgetSpec{Coin: "solana"})
	require.Error(t, err)
	assert.Len(t, s.Widgets(), 3)
}

func TestDebouncedErrorsReachHook(t *testing.T) {
	remote := &fakeRemote{err: errors.New("gateway down")}
	errs := make(chan error, 1)
	s := New(twoWidgetDashboard(), remote, nil, Options{
		Debounce: 10 * time.Millisecond,
		OnError:  func(err error) { errs <- err },
	}, util.Discard())

	require.NoError(t, s.MoveOrResize(context.Background(), []Change{{ID: "widget-7f1c-0", X: 0, Y: 0, W: 4, H: 4}}))
	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "gateway down")
	case <-time.After(time.Second):
		t.Fatal("error hook not called")
	}
	assert.Equal(t, 4, s.Widgets()[0].Layout.W)
}

func TestImmediatePersistSupersedesDebounce(t *testing.T) {
	s, remote, _ := newStore(t, twoWidgetDashboard(), 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.MoveOrResize(ctx, []Change{{ID: "widget-7f1c-0", X: 0, Y: 0, W: 4, H: 4}}))
	require.NoError(t, s.RenameWidget(ctx, "widget-7f1c-0", "BTC"))
	assert.False(t, s.Pending())

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, 1, remote.count())
	assert.Equal(t, 4, remote.last().Widgets[0].Layout.W)
	assert.Equal(t, "BTC", remote.last().Widgets[0].Title)
}

func TestCloseFlushesPending(t *testing.T) {
	s, remote, _ := newStore(t, twoWidgetDashboard(), time.Hour)
	ctx := context.Background()

	require.NoError(t, s.MoveOrResize(ctx, []Change{{ID: "widget-7f1c-1", X: 6, Y: 0, W: 6, H: 6}}))
	require.NoError(t, s.Close(ctx))
	require.Equal(t, 1, remote.count())
	assert.Equal(t, 6, remote.last().Widgets[1].Layout.H)

	_, err := s.AddWidget(ctx, WidgetSpec{Coin: "solana"})
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 1, remote.count())
}

func TestRevisionAdvancesAfterAcceptedPut(t *testing.T) {
	d := twoWidgetDashboard()
	d.Revision = 7
	s, remote, _ := newStore(t, d, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.RenameWidget(ctx, "widget-7f1c-0", "A"))
	require.NoError(t, s.RenameWidget(ctx, "widget-7f1c-0", "B"))
	assert.Equal(t, int64(7), remote.calls[0].Revision)
	assert.Equal(t, int64(8), remote.calls[1].Revision)
}

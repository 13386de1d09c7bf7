// Package layout owns the widgets of an open dashboard. Mutations apply
// locally first, are mirrored to the local layout cache and then persisted
// to the user API. Moves and resizes are coalesced behind a debounce so a
// drag produces a single PUT carrying the final state.
package layout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cryptodash/internal/domain"
	"cryptodash/internal/telemetry"
)

var (
	// ErrUnknownWidget is returned for a widget id the dashboard lacks.
	ErrUnknownWidget = errors.New("unknown widget")
	// ErrInvalidWidget is returned for an incomplete widget spec or patch.
	ErrInvalidWidget = errors.New("invalid widget")
	// ErrClosed is returned by mutations after Close.
	ErrClosed = errors.New("layout store closed")
)

// Remote persists a dashboard's widgets.
type Remote interface {
	UpdateDashboard(ctx context.Context, key string, upd domain.DashboardUpdate) error
}

// Mirror is the local recovery copy of widget layouts.
type Mirror interface {
	SaveLayouts(ctx context.Context, key string, widgets []domain.Widget) error
}

// Options tunes a Store.
type Options struct {
	Debounce time.Duration
	Columns  int
	// OnError receives errors of debounced persists, which have no caller
	// to return to.
	OnError func(error)
}

// WidgetSpec describes a widget to add.
type WidgetSpec struct {
	Coin      string
	Period    domain.Period
	ChartType domain.ChartType
	Title     string
	From, To  string
}

// Change is a move or resize of one widget in grid cells.
type Change struct {
	ID         string
	X, Y, W, H int
}

// Patch edits a widget's data settings. Nil fields are left alone.
type Patch struct {
	Coin      *string
	Period    *domain.Period
	ChartType *domain.ChartType
	From, To  *string
}

// Store holds the live widget state of one dashboard.
type Store struct {
	mu      sync.Mutex
	dash    domain.Dashboard
	key     string
	timer   *time.Timer
	seq     uint64 // debounce generation
	pending bool
	closed  bool

	// sendMu orders PUTs; each one snapshots state after acquiring it.
	sendMu sync.Mutex

	remote Remote
	mirror Mirror
	opts   Options
	log    *slog.Logger
}

// New creates a store for d. d should already be normalized.
func New(d domain.Dashboard, remote Remote, mirror Mirror, opts Options, log *slog.Logger) *Store {
	if opts.Debounce <= 0 {
		opts.Debounce = 400 * time.Millisecond
	}
	if opts.Columns <= 0 {
		opts.Columns = DefaultColumns
	}
	return &Store{
		dash:   d.Clone(),
		key:    d.Key(),
		remote: remote,
		mirror: mirror,
		opts:   opts,
		log:    log.With("dashboard", d.Key()),
	}
}

// Key returns the canonical key of the dashboard.
func (s *Store) Key() string { return s.key }

// Snapshot returns a copy of the current dashboard.
func (s *Store) Snapshot() domain.Dashboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dash.Clone()
}

// Widgets returns a copy of the current widgets in dashboard order.
func (s *Store) Widgets() []domain.Widget {
	return s.Snapshot().Widgets
}

// Pending reports whether a debounced persist is scheduled.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// AddWidget appends a widget below the lowest occupied row and persists
// immediately.
func (s *Store) AddWidget(ctx context.Context, spec WidgetSpec) (domain.Widget, error) {
	coin := strings.TrimSpace(spec.Coin)
	if coin == "" {
		return domain.Widget{}, fmt.Errorf("%w: coin is required", ErrInvalidWidget)
	}
	w := domain.Widget{
		Type:      domain.WidgetPriceChart,
		Coin:      coin,
		Period:    spec.Period,
		ChartType: spec.ChartType,
		Title:     strings.TrimSpace(spec.Title),
		From:      spec.From,
		To:        spec.To,
	}
	if w.Period == "" {
		w.Period = domain.Period7D
	}
	if w.ChartType == "" {
		w.ChartType = domain.ChartReal
	}
	if w.Title == "" {
		w.Title = domain.DefaultWidgetTitle(coin)
	}
	if err := checkRange(w); err != nil {
		return domain.Widget{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Widget{}, ErrClosed
	}
	w.ID = widgetID(s.key, s.dash.Widgets, len(s.dash.Widgets))
	w.Layout = domain.GridRect{
		X:    0,
		Y:    bottom(s.dash.Widgets),
		W:    min(DefaultW, s.opts.Columns),
		H:    DefaultH,
		MinW: min(DefaultMinW, s.opts.Columns),
		MinH: DefaultMinH,
	}
	s.dash.Widgets = append(s.dash.Widgets, w)
	s.mu.Unlock()

	s.log.Info("widget added", "widget", w.ID, "coin", w.Coin)
	return w, s.commit(ctx, false)
}

// RemoveWidget drops a widget, compacts the rest and persists immediately.
func (s *Store) RemoveWidget(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	kept := s.dash.Widgets[:0:0]
	for _, w := range s.dash.Widgets {
		if w.ID != id {
			kept = append(kept, w)
		}
	}
	if len(kept) == len(s.dash.Widgets) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownWidget, id)
	}
	compact(kept)
	s.dash.Widgets = kept
	s.mu.Unlock()

	s.log.Info("widget removed", "widget", id)
	return s.commit(ctx, false)
}

// MoveOrResize applies grid changes, clamps and compacts the grid, and
// schedules a debounced persist. Nothing is applied if any id is unknown.
func (s *Store) MoveOrResize(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	idx := make(map[string]int, len(s.dash.Widgets))
	for i, w := range s.dash.Widgets {
		idx[w.ID] = i
	}
	for _, c := range changes {
		if _, ok := idx[c.ID]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownWidget, c.ID)
		}
	}

	ws := append([]domain.Widget(nil), s.dash.Widgets...)
	moved := make([]string, 0, len(changes))
	for _, c := range changes {
		r := &ws[idx[c.ID]].Layout
		r.X, r.Y, r.W, r.H = c.X, c.Y, c.W, c.H
		*r = clamp(*r, s.opts.Columns)
		moved = append(moved, c.ID)
	}
	settle(ws, moved)
	s.dash.Widgets = ws
	s.scheduleLocked()
	s.mu.Unlock()

	s.saveMirror(ctx)
	return nil
}

// RenameWidget sets a widget's title. A blank title falls back to the
// default for its coin.
func (s *Store) RenameWidget(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownWidget, id)
	}
	if title == "" {
		title = domain.DefaultWidgetTitle(s.dash.Widgets[i].Coin)
	}
	s.dash.Widgets[i].Title = title
	s.mu.Unlock()

	return s.commit(ctx, false)
}

// RenameDashboard sets the dashboard name. A blank name falls back to
// domain.DefaultDashboardName.
func (s *Store) RenameDashboard(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = domain.DefaultDashboardName
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.dash.Name = name
	s.mu.Unlock()

	return s.commit(ctx, true)
}

// UpdateWidget edits a widget's coin, period or chart type and persists
// immediately. A title still at its coin default follows a coin change.
func (s *Store) UpdateWidget(ctx context.Context, id string, p Patch) (domain.Widget, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Widget{}, ErrClosed
	}
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return domain.Widget{}, fmt.Errorf("%w: %s", ErrUnknownWidget, id)
	}
	w := s.dash.Widgets[i]
	if p.Coin != nil {
		coin := strings.TrimSpace(*p.Coin)
		if coin == "" {
			s.mu.Unlock()
			return domain.Widget{}, fmt.Errorf("%w: coin is required", ErrInvalidWidget)
		}
		if w.Title == domain.DefaultWidgetTitle(w.Coin) {
			w.Title = domain.DefaultWidgetTitle(coin)
		}
		w.Coin = coin
	}
	if p.Period != nil {
		w.Period = *p.Period
	}
	if p.ChartType != nil {
		w.ChartType = *p.ChartType
	}
	if p.From != nil {
		w.From = *p.From
	}
	if p.To != nil {
		w.To = *p.To
	}
	if err := checkRange(w); err != nil {
		s.mu.Unlock()
		return domain.Widget{}, err
	}
	s.dash.Widgets[i] = w
	s.mu.Unlock()

	return w, s.commit(ctx, false)
}

// Flush persists a pending debounced change now.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return nil
	}
	s.cancelLocked()
	s.mu.Unlock()
	return s.persist(ctx, false)
}

// Close flushes a pending change and rejects further mutations.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.pending
	s.cancelLocked()
	s.mu.Unlock()

	if pending {
		return s.persist(ctx, false)
	}
	return nil
}

func (s *Store) indexLocked(id string) int {
	for i, w := range s.dash.Widgets {
		if w.ID == id {
			return i
		}
	}
	return -1
}

// commit mirrors and persists the current state, superseding any pending
// debounce.
func (s *Store) commit(ctx context.Context, withName bool) error {
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()

	s.saveMirror(ctx)
	return s.persist(ctx, withName)
}

func (s *Store) scheduleLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.seq++
	seq := s.seq
	s.pending = true
	s.timer = time.AfterFunc(s.opts.Debounce, func() { s.fire(seq) })
}

func (s *Store) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq++
	s.pending = false
}

func (s *Store) fire(seq uint64) {
	s.mu.Lock()
	if seq != s.seq || !s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.timer = nil
	s.mu.Unlock()

	if err := s.persist(context.Background(), false); err != nil && s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

// persist sends the state as of the moment the send slot is acquired, so
// PUTs reach the server in mutation order. Local state is never rolled back.
func (s *Store) persist(ctx context.Context, withName bool) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	upd := domain.DashboardUpdate{
		Widgets:  append([]domain.Widget(nil), s.dash.Widgets...),
		Revision: s.dash.Revision,
	}
	if withName {
		name := s.dash.Name
		upd.Name = &name
	}
	s.mu.Unlock()

	if err := s.remote.UpdateDashboard(ctx, s.key, upd); err != nil {
		telemetry.LayoutPersists.WithLabelValues("error").Inc()
		s.log.Error("persisting dashboard failed", "widgets", len(upd.Widgets), "error", err)
		return fmt.Errorf("persisting dashboard %s: %w", s.key, err)
	}
	telemetry.LayoutPersists.WithLabelValues("ok").Inc()

	if upd.Revision != 0 {
		s.mu.Lock()
		if s.dash.Revision == upd.Revision {
			s.dash.Revision++
		}
		s.mu.Unlock()
	}
	s.log.Debug("dashboard persisted", "widgets", len(upd.Widgets))
	return nil
}

func (s *Store) saveMirror(ctx context.Context) {
	if s.mirror == nil {
		return
	}
	ws := s.Widgets()
	if err := s.mirror.SaveLayouts(ctx, s.key, ws); err != nil {
		s.log.Warn("mirroring layouts failed", "error", err)
	}
}

func checkRange(w domain.Widget) error {
	if w.Period != domain.PeriodCustom {
		if w.Period.Days() <= 0 {
			return fmt.Errorf("%w: period %q", ErrInvalidWidget, w.Period)
		}
		return nil
	}
	if _, err := domain.RangeDays(w.From, w.To); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWidget, err)
	}
	return nil
}

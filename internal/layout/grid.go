package layout

import (
	"fmt"
	"slices"

	"cryptodash/internal/domain"
)

// Default widget geometry in grid cells.
const (
	DefaultColumns = 12
	DefaultW       = 6
	DefaultH       = 4
	DefaultMinW    = 3
	DefaultMinH    = 3
)

// DefaultRect returns the rect of the i-th widget on a dashboard that has no
// saved layout: two widgets per row, top to bottom.
func DefaultRect(i int) domain.GridRect {
	return domain.GridRect{
		X:    (i % 2) * DefaultW,
		Y:    (i / 2) * DefaultH,
		W:    DefaultW,
		H:    DefaultH,
		MinW: DefaultMinW,
		MinH: DefaultMinH,
	}
}

// bottom returns the first free row below every widget.
func bottom(ws []domain.Widget) int {
	y := 0
	for _, w := range ws {
		y = max(y, w.Layout.Bottom())
	}
	return y
}

// widgetID returns the first unused id of the form widget-{key}-{n}, starting
// at n = from.
func widgetID(key string, ws []domain.Widget, from int) string {
	used := make(map[string]bool, len(ws))
	for _, w := range ws {
		used[w.ID] = true
	}
	for n := from; ; n++ {
		id := fmt.Sprintf("widget-%s-%d", key, n)
		if !used[id] {
			return id
		}
	}
}

// clamp fits r into a grid of cols columns and enforces its minimum size.
func clamp(r domain.GridRect, cols int) domain.GridRect {
	r.MinW = min(max(r.MinW, 1), cols)
	r.MinH = max(r.MinH, 1)
	r.W = min(max(r.W, r.MinW), cols)
	r.H = max(r.H, r.MinH)
	r.X = max(r.X, 0)
	if r.X+r.W > cols {
		r.X = cols - r.W
	}
	r.Y = max(r.Y, 0)
	return r
}

// settle resolves overlaps and floats every widget up as far as it can go.
// Widgets listed in first keep priority over the spot they were dropped on;
// everything else is pushed below them. The slice order of ws is preserved.
func settle(ws []domain.Widget, first []string) {
	order := make([]int, 0, len(ws))
	pinned := make(map[int]bool, len(first))
	for _, id := range first {
		if i := slices.IndexFunc(ws, func(w domain.Widget) bool { return w.ID == id }); i >= 0 && !pinned[i] {
			pinned[i] = true
			order = append(order, i)
		}
	}
	rest := make([]int, 0, len(ws))
	for i := range ws {
		if !pinned[i] {
			rest = append(rest, i)
		}
	}
	sortByPosition(ws, rest)
	order = append(order, rest...)

	var placed []domain.GridRect
	for _, i := range order {
		r := pushDown(ws[i].Layout, placed)
		ws[i].Layout = r
		placed = append(placed, r)
	}
	compact(ws)
}

// compact moves each widget up while the cells above it are free, visiting
// widgets top to bottom.
func compact(ws []domain.Widget) {
	order := make([]int, len(ws))
	for i := range order {
		order[i] = i
	}
	sortByPosition(ws, order)

	var placed []domain.GridRect
	for _, i := range order {
		r := ws[i].Layout
		for r.Y > 0 {
			up := r
			up.Y--
			if collides(up, placed) {
				break
			}
			r = up
		}
		r = pushDown(r, placed)
		ws[i].Layout = r
		placed = append(placed, r)
	}
}

func sortByPosition(ws []domain.Widget, idx []int) {
	slices.SortStableFunc(idx, func(a, b int) int {
		ra, rb := ws[a].Layout, ws[b].Layout
		if ra.Y != rb.Y {
			return ra.Y - rb.Y
		}
		return ra.X - rb.X
	})
}

func pushDown(r domain.GridRect, placed []domain.GridRect) domain.GridRect {
	for {
		moved := false
		for _, p := range placed {
			if r.Overlaps(p) {
				r.Y = p.Bottom()
				moved = true
			}
		}
		if !moved {
			return r
		}
	}
}

func collides(r domain.GridRect, placed []domain.GridRect) bool {
	for _, p := range placed {
		if r.Overlaps(p) {
			return true
		}
	}
	return false
}

// Normalize reconciles a dashboard loaded from the server: widgets without an
// id get widget-{key}-{index} (bumped past ids already taken), widgets without a layout take the saved layout for their id or
// else the default grid position. Missing chart fields are defaulted.
func Normalize(d domain.Dashboard, saved map[string]domain.GridRect) domain.Dashboard {
	d = d.Clone()
	key := d.Key()
	for i := range d.Widgets {
		w := &d.Widgets[i]
		if w.ID == "" {
			w.ID = widgetID(key, d.Widgets, i)
		}
		if w.Layout.IsZero() {
			if r, ok := saved[w.ID]; ok && !r.IsZero() {
				w.Layout = r
			} else {
				w.Layout = DefaultRect(i)
			}
		}
		if w.Layout.MinW == 0 && w.Layout.MinH == 0 {
			w.Layout.MinW = min(DefaultMinW, w.Layout.W)
			w.Layout.MinH = min(DefaultMinH, w.Layout.H)
		}
		if w.Type == "" {
			w.Type = domain.WidgetPriceChart
		}
		if w.ChartType == "" {
			w.ChartType = domain.ChartReal
		}
		if w.Period == "" {
			w.Period = domain.Period7D
		}
		if w.Title == "" {
			w.Title = domain.DefaultWidgetTitle(w.Coin)
		}
	}
	if d.Name == "" {
		d.Name = domain.DefaultDashboardName
	}
	return d
}

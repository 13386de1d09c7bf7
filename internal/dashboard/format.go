package dashboard

import (
	"fmt"
	"math"
	"strings"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int64) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatCompact formats a dollar amount with B/M/K suffixes.
func FormatCompact(v float64) string {
	switch a := math.Abs(v); {
	case a >= 1e12:
		return fmt.Sprintf("$%.2fT", v/1e12)
	case a >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	case a >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case a >= 1e3:
		return fmt.Sprintf("$%.1fK", v/1e3)
	default:
		return fmt.Sprintf("$%.2f", v)
	}
}

// FormatPrice formats a coin price as $X,XXX.XX. Sub-dollar prices keep
// four significant digits so small caps stay readable. Zero, NaN and
// infinities render as "-".
func FormatPrice(p float64) string {
	if p == 0 || math.IsNaN(p) || math.IsInf(p, 0) {
		return "-"
	}
	if math.Abs(p) < 1 {
		digits := 4 - int(math.Floor(math.Log10(math.Abs(p)))) - 1
		return fmt.Sprintf("$%.*f", min(digits, 10), p)
	}
	whole := int64(p)
	cents := int64(math.Round((p - float64(whole)) * 100))
	if cents == 100 {
		whole++
		cents = 0
	}
	return fmt.Sprintf("$%s.%02d", FormatInt(whole), cents)
}

// FormatChange formats a percentage move as "+X.XX%" or "-X.XX%".
// Drops decimals for moves of 100% or more to keep width compact.
func FormatChange(pct float64) string {
	if math.IsNaN(pct) {
		return ""
	}
	if math.Abs(pct) >= 100 {
		return fmt.Sprintf("%+.0f%%", pct)
	}
	return fmt.Sprintf("%+.2f%%", pct)
}

// Sparkline renders a series of prices as a single line of block glyphs
// scaled between the series minimum and maximum, resampled to width.
func Sparkline(prices []float64, width int) string {
	if len(prices) == 0 || width <= 0 {
		return ""
	}
	const glyphs = "▁▂▃▄▅▆▇█"
	ramp := []rune(glyphs)

	lo, hi := prices[0], prices[0]
	for _, p := range prices {
		lo = min(lo, p)
		hi = max(hi, p)
	}
	n := min(width, len(prices))
	var b strings.Builder
	for i := 0; i < n; i++ {
		p := prices[i*len(prices)/n]
		idx := 0
		if hi > lo {
			idx = int(math.Round((p - lo) / (hi - lo) * float64(len(ramp)-1)))
		}
		b.WriteRune(ramp[idx])
	}
	return b.String()
}

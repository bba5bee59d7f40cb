package aggregate

import (
	"fmt"
	"math"
)

// moveWords buckets an up move in 10% steps; 100% and above is "moon".
var moveWords = []string{"mild", "big", "mover", "surge", "soar", "jump", "spike", "blast", "rocket", "zoom"}

// MoveWord labels an up move (0.12 = +12%).
func MoveWord(ret float64) string {
	if ret >= 1 {
		return "moon"
	}
	if ret <= 0 {
		return moveWords[0]
	}
	return moveWords[min(int(math.Floor(ret*10+1e-9)), len(moveWords)-1)]
}

// MoveBand renders the 10% band of an up move ("30–40%", "100%+").
func MoveBand(ret float64) string {
	if ret >= 1 {
		return "100%+"
	}
	lo := int(math.Floor(ret*10+1e-9)) * 10
	lo = max(0, min(lo, 90))
	return fmt.Sprintf("%d–%d%%", lo, lo+10)
}

// FormatGain formats a gain as "+X.X%", or "" if not positive. Values of
// 100% and more drop the decimal.
func FormatGain(g float64) string {
	if g <= 0 {
		return ""
	}
	pct := g * 100
	if pct >= 100 {
		return fmt.Sprintf("+%.0f%%", pct)
	}
	return fmt.Sprintf("+%.1f%%", pct)
}

// FormatPct formats a 0..1 share as "12.5%".
func FormatPct(p float64) string {
	return fmt.Sprintf("%.1f%%", p*100)
}

// statusText is the short human label of one list row.
func statusText(e Entry) string {
	switch e.Status {
	case StatusLocked:
		if e.Streak > 1 {
			return fmt.Sprintf("%d-day streak", e.Streak)
		}
		return "locked"
	case StatusTouchOnly:
		if e.StreakPrev > 0 {
			return fmt.Sprintf("touched, prev streak %d", e.StreakPrev)
		}
		return "touched"
	default:
		s := FormatGain(e.Ret)
		if e.Streak > 1 {
			s += fmt.Sprintf(" %d-day streak", e.Streak)
		}
		return s
	}
}

// Package format renders stats for compact displays such as a menu bar
// title or a terminal summary.
package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leozw/sitestats/internal/core"
)

const (
	ModeVisitors  = "visitors"
	ModePageviews = "pageviews"
	ModeBoth      = "both"
)

const DefaultPathLength = 30

// Number abbreviates n with one decimal: 999, 1.2k, 3M.
func Number(n int64) string {
	switch {
	case n >= 1_000_000:
		return scaled(float64(n)/1_000_000) + "M"
	case n >= 1_000:
		return scaled(float64(n)/1_000) + "k"
	default:
		return strconv.FormatInt(n, 10)
	}
}

func scaled(v float64) string {
	return strings.TrimSuffix(strconv.FormatFloat(v, 'f', 1, 64), ".0")
}

// Duration renders seconds as 45s, 2m or 2m 5s.
func Duration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes, rest := seconds/60, seconds%60
	if rest == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dm %ds", minutes, rest)
}

// TruncatePath shortens path to at most maxLen runes, ending in "...".
func TruncatePath(path string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultPathLength
	}
	runes := []rune(path)
	if len(runes) <= maxLen {
		return path
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// Title builds the one-line summary for the displayed site. Stats already
// on screen survive a failed refresh and get a trailing marker.
func Title(site *core.Site, result core.StatsResult, mode string) string {
	switch {
	case site == nil:
		return "Setup"
	case result.Stats == nil && result.Loading:
		return "..."
	case result.Stats == nil && result.Err != nil:
		return "!"
	case result.Stats == nil:
		return "--"
	}

	visitors := Number(result.Stats.Visitors)
	pageviews := Number(result.Stats.Pageviews)

	var title string
	switch mode {
	case ModeVisitors:
		title = visitors
	case ModePageviews:
		title = pageviews
	default:
		title = visitors + " | " + pageviews
	}
	if result.Err != nil {
		title += " !"
	}
	return title
}

// Tooltip is the longer hover text for the displayed site.
func Tooltip(site *core.Site, timeRange core.TimeRange, stats *core.Stats) string {
	if site == nil {
		return "Simple Analytics: Click to setup"
	}
	head := site.DisplayName() + ": " + timeRange.Label()
	if stats == nil {
		return head
	}
	return fmt.Sprintf("%s\n%d visitors, %d pageviews", head, stats.Visitors, stats.Pageviews)
}

// Summary renders a multi-line report of one site's stats.
func Summary(site core.Site, timeRange core.TimeRange, result core.StatsResult, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", site.DisplayName(), timeRange.Label())

	if result.Stats == nil {
		if message == "" {
			message = "No data"
		}
		fmt.Fprintf(&b, "  %s\n", message)
		return b.String()
	}

	s := result.Stats
	fmt.Fprintf(&b, "  Visitors:  %s\n", Number(s.Visitors))
	fmt.Fprintf(&b, "  Pageviews: %s\n", Number(s.Pageviews))
	if s.SecondsOnPage != nil {
		fmt.Fprintf(&b, "  Avg. time: %s\n", Duration(*s.SecondsOnPage))
	}
	if len(s.Pages) > 0 {
		b.WriteString("  Top pages:\n")
		for _, p := range s.Pages {
			fmt.Fprintf(&b, "    %-30s %s views\n", TruncatePath(p.Path, DefaultPathLength), Number(p.Pageviews))
		}
	}
	if len(s.Referrers) > 0 {
		b.WriteString("  Top referrers:\n")
		for _, r := range s.Referrers {
			fmt.Fprintf(&b, "    %-30s %s visitors\n", TruncatePath(r.Source, DefaultPathLength), Number(r.Visitors))
		}
	}
	if message != "" {
		fmt.Fprintf(&b, "  ! %s\n", message)
	}
	return b.String()
}

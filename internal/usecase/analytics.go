package usecase

import (
	"sort"
	"strings"

	"github.com/wardenhq/warden/internal/domain"
)

// breakdownLimit caps how many packages the dashboard chart shows.
const breakdownLimit = 5

// BreakdownEntry is one package's share of today's usage.
type BreakdownEntry struct {
	Name    string `json:"name"`
	Package string `json:"package"`
	Value   int    `json:"value"` // minutes
	Strikes int    `json:"strikes"`
}

// AnalyticsSnapshot is the queryable daily summary. It is derived on
// demand from the live rule, usage and strike state, never stored.
type AnalyticsSnapshot struct {
	TotalTimeMins int              `json:"total_time_mins"`
	TotalStrikes  int              `json:"total_strikes"`
	Breakdown     []BreakdownEntry `json:"breakdown"`
}

// BuildAnalytics computes the summary for the current day. Packages with
// neither time nor strikes are omitted; the breakdown is sorted by value
// descending (package ascending on ties, so the result is deterministic)
// and truncated to the top entries.
func BuildAnalytics(rules map[string]domain.AppRule, usageSecs map[string]int, strikes map[string]*domain.StrikeRecord) AnalyticsSnapshot {
	packages := make(map[string]struct{}, len(usageSecs)+len(strikes))
	for pkg := range usageSecs {
		packages[pkg] = struct{}{}
	}
	for pkg := range strikes {
		packages[pkg] = struct{}{}
	}

	snap := AnalyticsSnapshot{Breakdown: []BreakdownEntry{}}
	for pkg := range packages {
		mins := usageSecs[pkg] / 60
		count := 0
		if s := strikes[pkg]; s != nil {
			count = s.Count
		}

		snap.TotalTimeMins += mins
		snap.TotalStrikes += count

		if mins == 0 && count == 0 {
			continue
		}
		snap.Breakdown = append(snap.Breakdown, BreakdownEntry{
			Name:    friendlyName(rules, pkg),
			Package: pkg,
			Value:   mins,
			Strikes: count,
		})
	}

	sort.Slice(snap.Breakdown, func(i, j int) bool {
		a, b := snap.Breakdown[i], snap.Breakdown[j]
		if a.Value != b.Value {
			return a.Value > b.Value
		}
		return a.Package < b.Package
	})
	if len(snap.Breakdown) > breakdownLimit {
		snap.Breakdown = snap.Breakdown[:breakdownLimit]
	}
	return snap
}

// friendlyName prefers the rule's display name, falling back to the last
// package segment.
func friendlyName(rules map[string]domain.AppRule, pkg string) string {
	if rule, ok := rules[pkg]; ok && rule.Name != "" {
		return rule.Name
	}
	if i := strings.LastIndex(pkg, "."); i >= 0 && i < len(pkg)-1 {
		seg := pkg[i+1:]
		return strings.ToUpper(seg[:1]) + seg[1:]
	}
	return pkg
}

// Package costtime implements the time/cost/friction domain logic for the
// cost-and-time analysis worker, ported from
// original_source/core/agent_workers.py.
package costtime

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeText lowercases, strips punctuation, and collapses whitespace —
// used to fingerprint recurring task descriptions for friction clustering.
func NormalizeText(text string) string {
	lower := strings.ToLower(text)
	var b strings.Builder
	for _, r := range lower {
		if strings.ContainsRune(`!"#$%&'()*+,-./:;<=>?@[\]^_`+"`"+`{|}~`, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(b.String(), " "))
}

// Row is one line item of a work context's time log.
type Row struct {
	Text             string
	Category         string
	EstimatedMinutes *float64
}

// CategoryBreakdown is one category's share of total logged time.
type CategoryBreakdown struct {
	Category     string  `json:"category"`
	Minutes      float64 `json:"minutes"`
	Hours        float64 `json:"hours"`
	SharePercent float64 `json:"share_percent"`
}

// ComputeTimeMetrics totals minutes/hours across rows and buckets them by
// category, sorted for deterministic output.
func ComputeTimeMetrics(rows []Row) (totalMinutes, totalHours float64, breakdown []CategoryBreakdown) {
	byCategory := make(map[string]float64)
	for _, row := range rows {
		minutes := 0.0
		if row.EstimatedMinutes != nil {
			minutes = *row.EstimatedMinutes
		}
		totalMinutes += minutes
		cat := row.Category
		if cat == "" {
			cat = "uncategorized"
		}
		byCategory[cat] += minutes
	}
	var rawTotal float64
	for _, v := range byCategory {
		rawTotal += v
	}

	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	totalHours = round2(totalMinutes / 60)
	totalMinutes = round2(totalMinutes)

	for _, cat := range categories {
		minutes := byCategory[cat]
		share := 0.0
		if rawTotal > 0 {
			share = minutes / rawTotal * 100
		}
		breakdown = append(breakdown, CategoryBreakdown{
			Category:     cat,
			Minutes:      round2(minutes),
			Hours:        round2(minutes / 60),
			SharePercent: round2(share),
		})
	}
	return totalMinutes, totalHours, breakdown
}

// ComputeConfidence scores [0,1] confidence in the time analysis based on
// row completeness and category diversity.
func ComputeConfidence(rows []Row, hasHourlyRate bool) float64 {
	base := 0.6
	if hasHourlyRate {
		base += 0.1
	}
	if len(rows) > 5 {
		base += 0.05
	}
	categories := make(map[string]struct{})
	missingEstimates := 0
	for _, row := range rows {
		if row.Category != "" {
			categories[row.Category] = struct{}{}
		}
		if row.EstimatedMinutes == nil {
			missingEstimates++
		}
	}
	if len(categories) > 1 {
		base += 0.05
	}
	if missingEstimates > 2 {
		base -= 0.1
	}
	if base < 0 {
		base = 0
	}
	if base > 1 {
		base = 1
	}
	return round2(base)
}

// Costs is the monthly/annual cost projection derived from total hours.
type Costs struct {
	HourlyRate  float64 `json:"hourly_rate"`
	MonthlyCost float64 `json:"monthly_cost"`
	AnnualCost  float64 `json:"annual_cost"`
}

// ComputeCosts projects monthly and annual cost from totalHours at hourlyRate.
func ComputeCosts(totalHours, hourlyRate float64) Costs {
	monthly := totalHours * hourlyRate
	annual := monthly * 12
	return Costs{HourlyRate: hourlyRate, MonthlyCost: round2(monthly), AnnualCost: round2(annual)}
}

// FrictionCluster is one group of recurring, near-identical task entries.
type FrictionCluster struct {
	Fingerprint string `json:"fingerprint"`
	Count       int    `json:"count"`
	SampleText  string `json:"sample_text"`
}

// Friction is the recurring-work analysis over a work context's rows.
type Friction struct {
	TotalRows       int               `json:"total_rows"`
	RecurringCount  int               `json:"recurring_count"`
	RecurringShare  float64           `json:"recurring_share"`
	AvoidablePercent float64          `json:"avoidable_percent"`
	Clusters        []FrictionCluster `json:"clusters"`
}

// ComputeFriction fingerprints each row's normalized text (truncated to 48
// bytes) and reports the rows that recur more than once as avoidable
// friction, capped at 60%.
func ComputeFriction(rows []Row) Friction {
	buckets := make(map[string][]Row)
	for _, row := range rows {
		key := NormalizeText(row.Text)
		if len(key) > 48 {
			key = key[:48]
		}
		buckets[key] = append(buckets[key], row)
	}

	recurringCount := 0
	keys := make([]string, 0, len(buckets))
	for k, v := range buckets {
		if k != "" && len(v) > 1 {
			recurringCount += len(v)
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	totalRows := len(rows)
	recurringShare := 0.0
	if totalRows > 0 {
		recurringShare = float64(recurringCount) / float64(totalRows) * 100
	}
	avoidable := recurringShare * 1.25
	if avoidable > 60 {
		avoidable = 60
	}

	clusters := make([]FrictionCluster, 0, len(keys))
	for _, k := range keys {
		v := buckets[k]
		sample := v[0].Text
		if len(sample) > 120 {
			sample = sample[:120]
		}
		clusters = append(clusters, FrictionCluster{Fingerprint: k, Count: len(v), SampleText: sample})
	}

	return Friction{
		TotalRows:        totalRows,
		RecurringCount:   recurringCount,
		RecurringShare:   round2(recurringShare),
		AvoidablePercent: round2(avoidable),
		Clusters:         clusters,
	}
}

// Scenario is the human-readable "what could be recovered" summary.
type Scenario struct {
	AvoidablePercent     float64 `json:"avoidable_percent"`
	RecoveredHours       float64 `json:"recovered_hours"`
	RecoveredMonthlyCost float64 `json:"recovered_monthly_cost"`
	Summary              string  `json:"summary"`
}

// ComputeScenario projects recovered hours and cost from the friction
// analysis's avoidable share.
func ComputeScenario(totalHours float64, costs Costs, friction Friction) Scenario {
	recoveredHours := totalHours * (friction.AvoidablePercent / 100)
	recoveredCost := recoveredHours * costs.HourlyRate
	summary := "Recover " + formatFloat(round2(recoveredHours)) + "h (" + formatFloat(friction.AvoidablePercent) +
		"% avoidable) worth $" + formatFloat(round2(recoveredCost)) + " per month"
	return Scenario{
		AvoidablePercent:     friction.AvoidablePercent,
		RecoveredHours:       round2(recoveredHours),
		RecoveredMonthlyCost: round2(recoveredCost),
		Summary:              summary,
	}
}

func round2(f float64) float64 {
	return float64(int64(f*100+sign(f)*0.5)) / 100
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

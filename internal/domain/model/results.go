package model

import (
	"fmt"
	"strings"
	"time"
)

// DistanceStats summarizes trip_distance over a table. Fields are nil when the table has no
// non-null distances.
type DistanceStats struct {
	Avg    *float64 `json:"avg"`
	Median *float64 `json:"median"`
	StdDev *float64 `json:"stddev"`
}

func (s DistanceStats) String() string {
	return fmt.Sprintf("avg: %s, median: %s, stddev: %s", formatStat(s.Avg), formatStat(s.Median), formatStat(s.StdDev))
}

func formatStat(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

// TableSummary is what the loader reports for one raw table.
type TableSummary struct {
	Color         Color         `json:"color"`
	Table         string        `json:"table"`
	Created       bool          `json:"created"`
	PeriodsLoaded int           `json:"periods_loaded"`
	Rows          int64         `json:"rows"`
	Stats         DistanceStats `json:"stats"`
}

// LoadReport is the loader's output.
type LoadReport struct {
	Tables             []TableSummary `json:"tables"`
	EmissionFactorRows int64          `json:"emission_factor_rows"`
}

// PredicateRemoval counts rows deleted by one cleaning predicate.
type PredicateRemoval struct {
	Predicate string `json:"predicate"`
	Rows      int64  `json:"rows"`
}

// VerificationResult is one post-cleaning check.
// Strict checks must report zero remaining rows; the subset duplicate check is informational.
type VerificationResult struct {
	Name      string `json:"name"`
	Remaining int64  `json:"remaining"`
	Strict    bool   `json:"strict"`
}

// Passed reports whether the check holds.
func (v VerificationResult) Passed() bool {
	return !v.Strict || v.Remaining == 0
}

// CleaningReport is the cleaner's output for one color.
type CleaningReport struct {
	Color         Color                `json:"color"`
	Source        string               `json:"source"`
	Target        string               `json:"target"`
	Before        int64                `json:"before"`
	After         int64                `json:"after"`
	Removals      []PredicateRemoval   `json:"removals"`
	Verifications []VerificationResult `json:"verifications"`
}

// Removed is the total number of rows dropped, duplicates included.
func (r CleaningReport) Removed() int64 {
	return r.Before - r.After
}

// TransformReport is the transformer's output for one color.
type TransformReport struct {
	Color  Color   `json:"color"`
	Table  string  `json:"table"`
	Rows   int64   `json:"rows"`
	Factor float64 `json:"co2_grams_per_mile"`
}

// Grouping is a calendar bucket of the transformed table.
type Grouping int

const (
	ByHour Grouping = iota
	ByDay
	ByWeek
	ByMonth
)

var groupingSpecs = [...]struct{ column, noun string }{
	ByHour:  {"hour_of_day", "hour"},
	ByDay:   {"day_of_week", "day"},
	ByWeek:  {"week_of_year", "week"},
	ByMonth: {"month_of_year", "month"},
}

// Groupings returns every grouping in report order.
func Groupings() []Grouping {
	return []Grouping{ByHour, ByDay, ByWeek, ByMonth}
}

// Column is the transformed-table column that holds the bucket.
func (g Grouping) Column() string { return groupingSpecs[g].column }

func (g Grouping) String() string { return groupingSpecs[g].noun }

// BucketLabel renders a bucket id: weekday and month names, plain numbers otherwise.
func (g Grouping) BucketLabel(bucket int) string {
	switch g {
	case ByDay:
		if bucket >= 0 && bucket <= 6 {
			return time.Weekday(bucket).String()
		}
	case ByMonth:
		if bucket >= 1 && bucket <= 12 {
			return time.Month(bucket).String()
		}
	}
	return fmt.Sprintf("%d", bucket)
}

// MarshalText encodes the grouping by noun.
func (g Grouping) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// BucketAverage is the mean trip CO2 of one bucket.
type BucketAverage struct {
	Bucket int     `json:"bucket"`
	AvgCO2 float64 `json:"avg_co2"`
}

// BucketRanking holds buckets ordered heaviest first.
type BucketRanking struct {
	Color    Color           `json:"color"`
	Grouping Grouping        `json:"grouping"`
	Buckets  []BucketAverage `json:"buckets"`
}

// Heaviest is the first bucket of the ranking.
func (r BucketRanking) Heaviest() BucketAverage {
	return r.Buckets[0]
}

// Lightest is the last bucket of the ranking.
func (r BucketRanking) Lightest() BucketAverage {
	return r.Buckets[len(r.Buckets)-1]
}

// MonthlyTotal is the summed trip CO2 of one month of the year across every loaded year.
type MonthlyTotal struct {
	Month    int     `json:"month"`
	TotalKgs float64 `json:"total_kgs"`
}

// Field is one column of a result row.
type Field struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// TripRecord is a full transformed row, in table column order.
type TripRecord []Field

// Get returns the value of the named column.
func (r TripRecord) Get(name string) (interface{}, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

func (r TripRecord) String() string {
	parts := make([]string, len(r))
	for i, f := range r {
		v := f.Value
		if t, ok := v.(time.Time); ok {
			v = t.Format("2006-01-02 15:04:05")
		}
		parts[i] = fmt.Sprintf("%s=%v", f.Name, v)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// AnalysisReport is the analyzer's output.
type AnalysisReport struct {
	TopTrips  map[string]TripRecord     `json:"top_trips"`
	Rankings  []BucketRanking           `json:"rankings"`
	Monthly   map[string][]MonthlyTotal `json:"monthly"`
	ChartPath string                    `json:"chart_path"`
}

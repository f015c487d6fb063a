package errtrack

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// StatsOptions selects the record set and grouping for Stats.
type StatsOptions struct {
	From time.Time
	To   time.Time

	// GroupBy names a context field to group counts by. Records
	// without the field fall into the "" group.
	GroupBy string
}

// Stats is a read-only aggregation over persisted records.
type Stats struct {
	Total      int
	BySeverity map[Severity]int
	ByType     map[string]int
	ByGroup    map[string]int
}

// Stats aggregates persisted records over a time range, grouped by
// severity, type, and an optional caller-chosen context field. It is a
// pure function over the retrieved record set.
func (a *Aggregator) Stats(ctx context.Context, opts StatsOptions) (*Stats, error) {
	records, err := a.repo.List(ctx, Filter{From: opts.From, To: opts.To})
	if err != nil {
		return nil, fmt.Errorf("list error records: %w", err)
	}

	stats := &Stats{
		BySeverity: make(map[Severity]int),
		ByType:     make(map[string]int),
	}
	if opts.GroupBy != "" {
		stats.ByGroup = make(map[string]int)
	}

	for _, rec := range records {
		stats.Total++
		stats.BySeverity[rec.Severity]++
		stats.ByType[rec.Type]++
		if opts.GroupBy != "" {
			group := ""
			if v, ok := rec.Context[opts.GroupBy]; ok {
				group = fmt.Sprint(v)
			}
			stats.ByGroup[group]++
		}
	}
	return stats, nil
}

// Interval is a trend bucket size.
type Interval string

const (
	IntervalHour  Interval = "hour"
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
)

// TrendOptions selects the record set and bucketing for Trends.
type TrendOptions struct {
	From     time.Time
	To       time.Time
	Interval Interval
}

// TrendPoint is one bucket of the trend series.
type TrendPoint struct {
	Start      time.Time
	Count      int
	BySeverity map[Severity]int
}

// Trends buckets persisted records by hour, day, week, or month.
// Buckets with no records are omitted; points are ordered by start
// time ascending.
func (a *Aggregator) Trends(ctx context.Context, opts TrendOptions) ([]TrendPoint, error) {
	interval := opts.Interval
	if interval == "" {
		interval = IntervalDay
	}
	switch interval {
	case IntervalHour, IntervalDay, IntervalWeek, IntervalMonth:
	default:
		return nil, fmt.Errorf("unknown trend interval %q", interval)
	}

	records, err := a.repo.List(ctx, Filter{From: opts.From, To: opts.To})
	if err != nil {
		return nil, fmt.Errorf("list error records: %w", err)
	}

	buckets := make(map[time.Time]*TrendPoint)
	for _, rec := range records {
		start := bucketStart(rec.Time, interval)
		point, ok := buckets[start]
		if !ok {
			point = &TrendPoint{Start: start, BySeverity: make(map[Severity]int)}
			buckets[start] = point
		}
		point.Count++
		point.BySeverity[rec.Severity]++
	}

	points := make([]TrendPoint, 0, len(buckets))
	for _, point := range buckets {
		points = append(points, *point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Start.Before(points[j].Start) })
	return points, nil
}

// bucketStart truncates t to the start of its bucket. Weeks start on
// Monday.
func bucketStart(t time.Time, interval Interval) time.Time {
	switch interval {
	case IntervalHour:
		return t.Truncate(time.Hour)
	case IntervalDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case IntervalWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case IntervalMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	}
	return t
}

package store

import (
	"context"
	"fmt"
	"time"
)

// StatsSince computes the dashboard summary for sentiments processed at
// or after from.
func (s *Store) StatsSince(ctx context.Context, from time.Time) (*Stats, error) {
	st := &Stats{
		BySeverity: make(map[string]int),
		ByHospital: make(map[string]int),
		BySource:   make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, status, hospital_name, source_platform, COUNT(*)
		FROM sentiments
		WHERE processed_at >= ?
		GROUP BY severity, status, hospital_name, source_platform
	`, from)
	if err != nil {
		return nil, fmt.Errorf("stats query: %w", err)
	}
	defer rows.Close()

	var scoreSum float64
	for rows.Next() {
		var severity, status, hospital, source string
		var count int
		if err := rows.Scan(&severity, &status, &hospital, &source, &count); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}

		st.Total += count
		st.BySeverity[severity] += count
		st.ByHospital[hospital] += count
		st.BySource[source] += count
		scoreSum += SeverityScore(severity) * float64(count)

		switch status {
		case StatusActive:
			st.Active += count
		case StatusDismissed:
			st.Dismissed += count
		}
		if severity == SeverityHigh {
			st.High += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if st.Total > 0 {
		st.AverageScore = scoreSum / float64(st.Total)
	}
	return st, nil
}

// TrendSince returns time-bucketed counts with average severity score.
// hourly selects per-hour buckets labelled "HH:00"; otherwise buckets
// are per-day labelled "MM-DD". Labels are computed in the server's
// local zone, and empty buckets between from and now are included so
// the dashboard series has no gaps.
func (s *Store) TrendSince(ctx context.Context, from time.Time, hourly bool) ([]TrendBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT processed_at, severity
		FROM sentiments
		WHERE processed_at >= ?
		ORDER BY processed_at ASC
	`, from)
	if err != nil {
		return nil, fmt.Errorf("trend query: %w", err)
	}
	defer rows.Close()

	type acc struct {
		count int
		score float64
	}
	byLabel := make(map[string]*acc)

	for rows.Next() {
		var at time.Time
		var severity string
		if err := rows.Scan(&at, &severity); err != nil {
			return nil, fmt.Errorf("scan trend row: %w", err)
		}
		label := bucketLabel(at.Local(), hourly)
		a := byLabel[label]
		if a == nil {
			a = &acc{}
			byLabel[label] = a
		}
		a.count++
		a.score += SeverityScore(severity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Walk the full range so gaps render as zero buckets.
	step := 24 * time.Hour
	if hourly {
		step = time.Hour
	}
	var out []TrendBucket
	now := time.Now().Local()
	for t := from.Local(); !t.After(now); t = t.Add(step) {
		label := bucketLabel(t, hourly)
		b := TrendBucket{Label: label}
		if a := byLabel[label]; a != nil {
			b.Count = a.count
			b.AverageScore = a.score / float64(a.count)
		}
		out = append(out, b)
	}
	return out, nil
}

func bucketLabel(t time.Time, hourly bool) string {
	if hourly {
		return t.Format("15:00")
	}
	return t.Format("01-02")
}

package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Sort orders for List.
const (
	SortDiscovered = "discovered"
	SortScore      = "score"
	SortTitle      = "title"
)

// Filter narrows a job listing.
type Filter struct {
	Search   string
	MinScore int
	MaxScore int
	Site     string
	Phase    Phase
	Sort     string
	Limit    int
	Offset   int
	// Threshold is the fit score gate used to compute phases.
	Threshold int
	Now       time.Time
}

// StatsOptions parameterizes Stats.
type StatsOptions struct {
	MinScore    int
	MaxAttempts map[Stage]int
	Now         time.Time
}

// Stats summarizes the store for dashboards.
type Stats struct {
	Total          int
	Phases         map[Phase]int
	Sites          map[string]int
	Eligible       map[Stage]int
	Enriched       int
	Scored         int
	AboveThreshold int
	Tailored       int
	CoverLetters   int
	Applied        int
	Errored        int
	LastDiscovered *time.Time
}

// List returns jobs matching filter.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Job, error) {
	now := s.clock(filter.Now)
	var (
		conds []string
		args  []any
	)
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		conds = append(conds, "(LOWER(COALESCE(title, '')) LIKE ? OR LOWER(COALESCE(site, '')) LIKE ? OR LOWER(COALESCE(location, '')) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	if filter.MinScore > 0 {
		conds = append(conds, "fit_score >= ?")
		args = append(args, filter.MinScore)
	}
	if filter.MaxScore > 0 {
		conds = append(conds, "fit_score <= ?")
		args = append(args, filter.MaxScore)
	}
	if site := strings.TrimSpace(filter.Site); site != "" {
		conds = append(conds, "site = ?")
		args = append(args, site)
	}
	if filter.Phase != "" {
		conds = append(conds, "("+phaseExpr+") = ?")
		args = append(args, phaseArgs(filter.Threshold, now)...)
		args = append(args, string(filter.Phase))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	switch filter.Sort {
	case SortScore:
		query += ` ORDER BY fit_score DESC, discovered_at, url`
	case SortTitle:
		query += ` ORDER BY LOWER(COALESCE(title, '')), url`
	default:
		query += ` ORDER BY discovered_at DESC, url`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// Stats aggregates counts across the store.
func (s *Store) Stats(ctx context.Context, opts StatsOptions) (Stats, error) {
	now := s.clock(opts.Now)
	stats := Stats{
		Phases:   make(map[Phase]int, len(Phases)),
		Sites:    make(map[string]int),
		Eligible: make(map[Stage]int, len(stageTable)),
	}

	var lastDiscovered sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT
            COUNT(1),
            COALESCE(SUM(detail_scraped_at IS NOT NULL), 0),
            COALESCE(SUM(scored_at IS NOT NULL), 0),
            COALESCE(SUM(scored_at IS NOT NULL AND fit_score >= ?), 0),
            COALESCE(SUM(tailored_at IS NOT NULL), 0),
            COALESCE(SUM(cover_letter_at IS NOT NULL), 0),
            COALESCE(SUM(applied_at IS NOT NULL), 0),
            COALESCE(SUM(errored_stage IS NOT NULL), 0),
            MAX(discovered_at)
        FROM jobs`, opts.MinScore)
	if err := row.Scan(
		&stats.Total,
		&stats.Enriched,
		&stats.Scored,
		&stats.AboveThreshold,
		&stats.Tailored,
		&stats.CoverLetters,
		&stats.Applied,
		&stats.Errored,
		&lastDiscovered,
	); err != nil {
		return Stats{}, fmt.Errorf("job totals: %w", err)
	}
	stats.LastDiscovered = parseNullableTime(lastDiscovered)

	if err := s.groupCounts(ctx, `SELECT `+phaseExpr+` AS phase, COUNT(1) FROM jobs GROUP BY phase`,
		phaseArgs(opts.MinScore, now), func(key string, count int) { stats.Phases[Phase(key)] = count }); err != nil {
		return Stats{}, fmt.Errorf("phase counts: %w", err)
	}
	if err := s.groupCounts(ctx, `SELECT COALESCE(site, ''), COUNT(1) FROM jobs GROUP BY 1`,
		nil, func(key string, count int) { stats.Sites[key] = count }); err != nil {
		return Stats{}, fmt.Errorf("site counts: %w", err)
	}

	for _, stage := range Stages {
		if _, ok := stageTable[stage]; !ok {
			continue
		}
		maxAttempts := opts.MaxAttempts[stage]
		if maxAttempts <= 0 {
			continue
		}
		count, err := s.CountEligible(ctx, Query{Stage: stage, MinScore: opts.MinScore, MaxAttempts: maxAttempts, Now: now})
		if err != nil {
			return Stats{}, err
		}
		stats.Eligible[stage] = count
	}
	return stats, nil
}

func (s *Store) groupCounts(ctx context.Context, query string, args []any, fn func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		fn(key, count)
	}
	return rows.Err()
}

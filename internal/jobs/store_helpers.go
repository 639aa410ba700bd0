package jobs

import (
	"database/sql"
	"errors"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const jobColumns = "url, title, salary, description, location, site, strategy, discovered_at, " +
	"full_description, application_url, detail_scraped_at, detail_error, enrich_attempts, " +
	"fit_score, score_keywords, score_reasoning, scored_at, score_attempts, " +
	"tailored_resume_path, tailored_at, tailor_attempts, tailor_error, skip_tailor, " +
	"cover_letter_path, cover_letter_at, cover_attempts, cover_error, skip_cover, " +
	"applied_at, apply_status, apply_error, apply_attempts, agent_id, last_attempted_at, " +
	"apply_duration_ms, apply_task_id, verification_confidence, " +
	"lease_token, lease_expires_at, errored_stage, errored_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job             Job
		title           sql.NullString
		salary          sql.NullString
		description     sql.NullString
		location        sql.NullString
		site            sql.NullString
		strategy        sql.NullString
		discoveredRaw   string
		fullDescription sql.NullString
		applicationURL  sql.NullString
		detailScraped   sql.NullString
		detailError     sql.NullString
		scoreKeywords   sql.NullString
		scoreReasoning  sql.NullString
		scoredRaw       sql.NullString
		tailoredPath    sql.NullString
		tailoredRaw     sql.NullString
		tailorError     sql.NullString
		skipTailor      int
		coverPath       sql.NullString
		coverRaw        sql.NullString
		coverError      sql.NullString
		skipCover       int
		appliedRaw      sql.NullString
		applyStatus     sql.NullString
		applyError      sql.NullString
		agentID         sql.NullString
		lastAttempted   sql.NullString
		applyDuration   sql.NullInt64
		applyTaskID     sql.NullString
		confidence      sql.NullFloat64
		leaseToken      sql.NullString
		leaseExpires    sql.NullString
		erroredStage    sql.NullString
		erroredRaw      sql.NullString
		updatedRaw      string
	)

	if err := scanner.Scan(
		&job.URL, &title, &salary, &description, &location, &site, &strategy, &discoveredRaw,
		&fullDescription, &applicationURL, &detailScraped, &detailError, &job.EnrichAttempts,
		&job.FitScore, &scoreKeywords, &scoreReasoning, &scoredRaw, &job.ScoreAttempts,
		&tailoredPath, &tailoredRaw, &job.TailorAttempts, &tailorError, &skipTailor,
		&coverPath, &coverRaw, &job.CoverAttempts, &coverError, &skipCover,
		&appliedRaw, &applyStatus, &applyError, &job.ApplyAttempts, &agentID, &lastAttempted,
		&applyDuration, &applyTaskID, &confidence,
		&leaseToken, &leaseExpires, &erroredStage, &erroredRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	job.Title = title.String
	job.Salary = salary.String
	job.Description = description.String
	job.Location = location.String
	job.Site = site.String
	job.Strategy = strategy.String
	job.FullDescription = fullDescription.String
	job.ApplicationURL = applicationURL.String
	job.DetailError = detailError.String
	job.ScoreKeywords = scoreKeywords.String
	job.ScoreReasoning = scoreReasoning.String
	job.TailoredResumePath = tailoredPath.String
	job.TailorError = tailorError.String
	job.SkipTailor = skipTailor != 0
	job.CoverLetterPath = coverPath.String
	job.CoverError = coverError.String
	job.SkipCover = skipCover != 0
	job.ApplyStatus = applyStatus.String
	job.ApplyError = applyError.String
	job.AgentID = agentID.String
	job.ApplyDurationMillis = applyDuration.Int64
	job.ApplyTaskID = applyTaskID.String
	if confidence.Valid {
		value := confidence.Float64
		job.VerificationConfidence = &value
	}
	job.LeaseToken = leaseToken.String
	job.ErroredStage = Stage(erroredStage.String)

	if discovered, err := parseTimeString(discoveredRaw); err == nil {
		job.DiscoveredAt = discovered
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	job.DetailScrapedAt = parseNullableTime(detailScraped)
	job.ScoredAt = parseNullableTime(scoredRaw)
	job.TailoredAt = parseNullableTime(tailoredRaw)
	job.CoverLetterAt = parseNullableTime(coverRaw)
	job.AppliedAt = parseNullableTime(appliedRaw)
	job.LastAttemptedAt = parseNullableTime(lastAttempted)
	job.LeaseExpiresAt = parseNullableTime(leaseExpires)
	job.ErroredAt = parseNullableTime(erroredRaw)
	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return formatTime(*value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

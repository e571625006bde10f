package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"civicwatch/internal/types"
)

// ReportRepository provides data access for the reports table. Watchers and
// activities live in jsonb columns on the row, so the concurrency-sensitive
// mutations (watcher add/remove, conditional reopen, status update) are each
// a single conditional UPDATE evaluated atomically by the database.
type ReportRepository struct {
	db DBTX
}

// NewReportRepository creates a new ReportRepository backed by the given
// database connection (pool or transaction).
func NewReportRepository(db DBTX) *ReportRepository {
	return &ReportRepository{db: db}
}

// Compile-time assertion that the repository satisfies the store interface.
var _ types.ReportStore = (*ReportRepository)(nil)

const reportColumns = `id, category, description, date, attachment, mime_type,
	 thumbnail, latitude, longitude, municipality, status, action_required,
	 watchers, activities`

// Find returns the report with the given id.
func (r *ReportRepository) Find(ctx context.Context, id string) (*types.Report, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = $1`,
		id,
	)
	rep, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundReport,
				fmt.Sprintf("report %s not found", id), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find report", err)
	}
	return rep, nil
}

// Insert persists a new report.
func (r *ReportRepository) Insert(ctx context.Context, rep *types.Report) error {
	watchers, err := json.Marshal(rep.Watchers)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode watchers", err)
	}
	activities, err := json.Marshal(activitiesOrEmpty(rep.Activities))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode activities", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO reports
		 (id, category, description, date, attachment, mime_type, thumbnail,
		  latitude, longitude, municipality, status, action_required,
		  watchers, activities)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rep.ID,
		rep.Category,
		rep.Description,
		rep.Date,
		nilIfEmpty(rep.Attachment),
		nilIfEmpty(rep.MimeType),
		nilIfEmpty(rep.Thumbnail),
		rep.Latitude,
		rep.Longitude,
		rep.Municipality,
		string(rep.Status),
		rep.ActionRequired,
		watchers,
		activities,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert report", err)
	}
	return nil
}

// Delete removes the report row.
func (r *ReportRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete report", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReport,
			fmt.Sprintf("report %s not found", id), nil)
	}
	return nil
}

// AddActivity appends one activity to the report's activity list.
func (r *ReportRepository) AddActivity(ctx context.Context, id string, a types.Activity) error {
	encoded, err := json.Marshal(a)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode activity", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE reports
		 SET activities = activities || $2::jsonb
		 WHERE id = $1`,
		id, encoded,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to add activity", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReport,
			fmt.Sprintf("report %s not found", id), nil)
	}
	return nil
}

// AddWatcher adds a watcher with set semantics. The containment guard makes
// the update a no-op when any watcher entry already carries this id, so a
// repeated add is absorbed rather than duplicated.
func (r *ReportRepository) AddWatcher(ctx context.Context, id string, w types.Watcher) error {
	encoded, err := json.Marshal(w)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode watcher", err)
	}
	idProbe, err := json.Marshal([]map[string]string{{"id": w.ID}})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode watcher id", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE reports
		 SET watchers = watchers || $2::jsonb
		 WHERE id = $1 AND NOT watchers @> $3::jsonb`,
		id, encoded, idProbe,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to add watcher", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the report is missing or the watcher was already present.
		// Distinguish: the already-present case is a successful no-op.
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM reports WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to add watcher", err)
		}
		if !exists {
			return types.NewAppError(types.ErrCodeNotFoundReport,
				fmt.Sprintf("report %s not found", id), nil)
		}
	}
	return nil
}

// DeleteWatcher removes a non-creator watcher entry. The containment guard
// makes the update match only when a non-creator entry carries this id, so
// the creator and unlisted ids are rejected instead of reported as removed.
func (r *ReportRepository) DeleteWatcher(ctx context.Context, id, watcherID string) error {
	probe, err := json.Marshal([]map[string]any{{"id": watcherID, "creator": false}})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode watcher id", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE reports
		 SET watchers = (
		   SELECT COALESCE(jsonb_agg(w), '[]'::jsonb)
		   FROM jsonb_array_elements(watchers) AS w
		   WHERE w->>'id' <> $2 OR (w->>'creator')::boolean
		 )
		 WHERE id = $1 AND watchers @> $3::jsonb`,
		id, watcherID, probe,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete watcher", err)
	}
	if tag.RowsAffected() == 0 {
		// Nothing removable matched. Distinguish the creator from a watcher
		// that is not on the list (or a missing report).
		creatorProbe, err := json.Marshal([]map[string]any{{"id": watcherID, "creator": true}})
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode watcher id", err)
		}
		var isCreator bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM reports WHERE id = $1 AND watchers @> $2::jsonb)`,
			id, creatorProbe,
		).Scan(&isCreator); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to delete watcher", err)
		}
		if isCreator {
			return types.NewAppError(types.ErrCodeWatcherIsCreator,
				fmt.Sprintf("watcher %s is the creator of report %s", watcherID, id), nil)
		}
		return types.NewAppError(types.ErrCodeNotFoundReport,
			fmt.Sprintf("report %s has no watcher %s", id, watcherID), nil)
	}
	return nil
}

// Reopen flips a closed report to reopened. The status predicate makes the
// transition conditional inside the database; a report in any other status
// is left untouched and no error is reported.
func (r *ReportRepository) Reopen(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE reports
		 SET status = $3
		 WHERE id = $1 AND status = $2`,
		id, string(types.StatusClosed), string(types.StatusReopened),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reopen report", err)
	}
	return nil
}

// SetActionRequired sets the actionRequired flag.
func (r *ReportRepository) SetActionRequired(ctx context.Context, id string, value bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE reports SET action_required = $2 WHERE id = $1`,
		id, value,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set action required", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReport,
			fmt.Sprintf("report %s not found", id), nil)
	}
	return nil
}

// ApplyStatusUpdate persists the new status and clears actionRequired in one
// update. The category is written only when withCategory is true; after the
// first triage it is immutable.
func (r *ReportRepository) ApplyStatusUpdate(ctx context.Context, id string, status types.ReportStatus, category string, withCategory bool) error {
	if withCategory {
		ct, execErr := r.db.Exec(ctx,
			`UPDATE reports
			 SET status = $2, category = $3, action_required = FALSE
			 WHERE id = $1`,
			id, string(status), category,
		)
		if execErr != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to update report status", execErr)
		}
		if ct.RowsAffected() == 0 {
			return types.NewAppError(types.ErrCodeNotFoundReport,
				fmt.Sprintf("report %s not found", id), nil)
		}
		return nil
	}

	ct, err := r.db.Exec(ctx,
		`UPDATE reports
		 SET status = $2, action_required = FALSE
		 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update report status", err)
	}
	if ct.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReport,
			fmt.Sprintf("report %s not found", id), nil)
	}
	return nil
}

// CountActionRequired returns the number of the municipality's reports
// flagged as awaiting administrator attention.
func (r *ReportRepository) CountActionRequired(ctx context.Context, municipality string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM reports
		 WHERE municipality = $1 AND action_required`,
		municipality,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count pending reports", err)
	}
	return count, nil
}

// scanReport hydrates one report row, decoding the jsonb watcher and
// activity documents.
func scanReport(row pgx.Row) (*types.Report, error) {
	var (
		rep        types.Report
		status     string
		attachment *string
		mimeType   *string
		thumbnail  *string
		watchers   []byte
		activities []byte
	)
	err := row.Scan(
		&rep.ID,
		&rep.Category,
		&rep.Description,
		&rep.Date,
		&attachment,
		&mimeType,
		&thumbnail,
		&rep.Latitude,
		&rep.Longitude,
		&rep.Municipality,
		&status,
		&rep.ActionRequired,
		&watchers,
		&activities,
	)
	if err != nil {
		return nil, err
	}

	rep.Status = types.ReportStatus(status)
	if attachment != nil {
		rep.Attachment = *attachment
	}
	if mimeType != nil {
		rep.MimeType = *mimeType
	}
	if thumbnail != nil {
		rep.Thumbnail = *thumbnail
	}
	if err := json.Unmarshal(watchers, &rep.Watchers); err != nil {
		return nil, fmt.Errorf("decode watchers: %w", err)
	}
	if err := json.Unmarshal(activities, &rep.Activities); err != nil {
		return nil, fmt.Errorf("decode activities: %w", err)
	}
	return &rep, nil
}

func activitiesOrEmpty(a []types.Activity) []types.Activity {
	if a == nil {
		return []types.Activity{}
	}
	return a
}

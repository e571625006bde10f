package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"civicwatch/internal/types"
)

// UserRepository provides data access for the users table. The unread
// message and unseen report collections are jsonb sets on the user row;
// the set-add updates are conditional on non-membership so at-least-once
// job redelivery keeps them stable.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

var _ types.UserStore = (*UserRepository)(nil)

// Find returns the user with the given id.
func (r *UserRepository) Find(ctx context.Context, id string) (*types.User, error) {
	var (
		u              types.User
		platform       string
		registrationID *string
		mobile         *string
		firstname      *string
		lastname       *string
		messages       []byte
		reports        []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, municipality, platform, registration_id, mobile,
		        firstname, lastname, messages, reports, created_on
		 FROM users WHERE id = $1`,
		id,
	).Scan(
		&u.ID,
		&u.Municipality,
		&platform,
		&registrationID,
		&mobile,
		&firstname,
		&lastname,
		&messages,
		&reports,
		&u.CreatedOn,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser,
				fmt.Sprintf("user %s not found", id), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find user", err)
	}

	u.Platform = types.Platform(platform)
	if registrationID != nil {
		u.RegistrationID = *registrationID
	}
	if mobile != nil {
		u.Mobile = *mobile
	}
	if firstname != nil {
		u.Firstname = *firstname
	}
	if lastname != nil {
		u.Lastname = *lastname
	}
	if err := json.Unmarshal(messages, &u.Messages); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode user messages", err)
	}
	if err := json.Unmarshal(reports, &u.Reports); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode user reports", err)
	}
	return &u, nil
}

// FindRecipientTokens returns the non-empty registration tokens of the given
// users that belong to the municipality and platform. The query does the
// filtering so only deliverable tokens cross the wire.
func (r *UserRepository) FindRecipientTokens(ctx context.Context, municipality string, ids []string, platform types.Platform) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT registration_id FROM users
		 WHERE municipality = $1
		   AND platform = $2
		   AND id = ANY($3)
		   AND registration_id IS NOT NULL
		   AND registration_id <> ''`,
		municipality, string(platform), ids,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query recipient tokens", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan recipient token", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read recipient tokens", err)
	}
	return tokens, nil
}

// AddUnreadMessage adds the message id to every recipient's unread set.
func (r *UserRepository) AddUnreadMessage(ctx context.Context, messageID string, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}
	return r.setAdd(ctx, "messages", messageID, recipients)
}

// AddUnseenReport adds the report id to every watcher's unseen set.
func (r *UserRepository) AddUnseenReport(ctx context.Context, reportID string, watcherIDs []string) error {
	if len(watcherIDs) == 0 {
		return nil
	}
	return r.setAdd(ctx, "reports", reportID, watcherIDs)
}

// RemoveUnseenReport removes the report id from one watcher's unseen set.
func (r *UserRepository) RemoveUnseenReport(ctx context.Context, reportID, watcherID string) error {
	probe, err := json.Marshal(reportID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode report id", err)
	}

	_, err = r.db.Exec(ctx,
		`UPDATE users
		 SET reports = (
		   SELECT COALESCE(jsonb_agg(elem), '[]'::jsonb)
		   FROM jsonb_array_elements(reports) AS elem
		   WHERE elem <> $2::jsonb
		 )
		 WHERE id = $1`,
		watcherID, probe,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to remove unseen report", err)
	}
	return nil
}

// setAdd appends the value to the named jsonb array column for every listed
// user that does not already hold it.
func (r *UserRepository) setAdd(ctx context.Context, column, value string, userIDs []string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode set value", err)
	}

	var query string
	switch column {
	case "messages":
		query = `UPDATE users
			 SET messages = messages || $2::jsonb
			 WHERE id = ANY($1) AND NOT messages @> $2::jsonb`
	case "reports":
		query = `UPDATE users
			 SET reports = reports || $2::jsonb
			 WHERE id = ANY($1) AND NOT reports @> $2::jsonb`
	default:
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("unknown user set column %q", column), nil)
	}

	if _, err := r.db.Exec(ctx, query, userIDs, encoded); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update user set", err)
	}
	return nil
}

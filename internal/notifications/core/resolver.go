package core

import (
	"context"

	"civicwatch/internal/types"
)

// RecipientResolver computes the registration tokens to notify for a
// delivery job on one platform. Resolution never fails in the domain sense:
// an absent report/message/user degrades to an empty result, which
// short-circuits dispatch. Only infrastructure errors propagate.
type RecipientResolver struct {
	users    types.UserStore
	reports  types.ReportStore
	messages types.MessageStore
	logger   types.Logger
}

// NewRecipientResolver creates a resolver over the given stores.
func NewRecipientResolver(users types.UserStore, reports types.ReportStore, messages types.MessageStore, logger types.Logger) *RecipientResolver {
	return &RecipientResolver{
		users:    users,
		reports:  reports,
		messages: messages,
		logger:   logger,
	}
}

// ForMessage resolves a broadcast's targets: the message's explicit
// recipient list, materialized at creation time, intersected with users
// registered for the platform.
func (r *RecipientResolver) ForMessage(ctx context.Context, msg *types.Message, platform types.Platform) ([]string, error) {
	tokens, err := r.users.FindRecipientTokens(ctx, msg.Municipality, msg.Recipients, platform)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		r.logger.Info("no registered devices for message",
			"message_id", msg.ID,
			"platform", string(platform),
		)
	}
	return tokens, nil
}

// ForReport resolves an activity notice's targets from the report's current
// watcher list. The caller fetches the report fresh at dispatch time so late
// watcher changes are honored. Administrators and the acting watcher are
// never recipients.
func (r *RecipientResolver) ForReport(ctx context.Context, rep *types.Report, excludedActorID string, platform types.Platform) ([]string, error) {
	candidates := rep.WatcherIDs(func(w types.Watcher) bool {
		return !w.IsAdministrator() && w.ID != excludedActorID
	})
	if len(candidates) == 0 {
		return nil, nil
	}

	tokens, err := r.users.FindRecipientTokens(ctx, rep.Municipality, candidates, platform)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		r.logger.Info("no registered devices for report",
			"report_id", rep.ID,
			"platform", string(platform),
		)
	}
	return tokens, nil
}

// ForWatcher resolves a watcher-change notice's single target: the affected
// watcher's own device, provided it is registered on this platform. A
// missing user or unreachable device yields an empty result.
func (r *RecipientResolver) ForWatcher(ctx context.Context, watcherID string, platform types.Platform) ([]string, error) {
	user, err := r.users.Find(ctx, watcherID)
	if err != nil {
		if types.IsNotFound(err) {
			r.logger.Info("watcher not found, notification skipped",
				"watcher_id", watcherID,
			)
			return nil, nil
		}
		return nil, err
	}

	if !user.Reachable(platform) {
		r.logger.Info("watcher has no registered device on platform",
			"watcher_id", watcherID,
			"platform", string(platform),
		)
		return nil, nil
	}

	return []string{user.RegistrationID}, nil
}

package session

import (
	"context"
	"encoding/json"
	"fmt"

	"museu/internal/cache"
	"museu/internal/domain"
)

// Follow keeps the cache in step with changes made by other sessions: every
// committed event invalidates the queries it affects. It blocks until ctx is
// done or the feed drops.
func (s *Session) Follow(ctx context.Context) error {
	feed, err := s.gw.Subscribe(ctx)
	if err != nil {
		return err
	}
	for evt := range feed {
		keys, err := invalidations(evt)
		if err != nil {
			s.logger.Printf("session: event %d: %v; invalidating every report's activities", evt.ID, err)
		}
		if len(keys) > 0 {
			s.store.Invalidate(keys...)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	s.logger.Printf("session: live feed closed")
	return ErrFeedClosed
}

// Invalidations lists the query keys a committed event makes stale. An
// activity event whose payload cannot be read invalidates the activities of
// every report.
func Invalidations(evt domain.Event) []cache.Key {
	keys, _ := invalidations(evt)
	return keys
}

func invalidations(evt domain.Event) ([]cache.Key, error) {
	switch evt.EntityKind {
	case "report":
		keys := reportKeys(evt.EntityID)
		if evt.Type == "report.deleted" {
			keys = append(keys, activityKeys(evt.EntityID, "")...)
		}
		return keys, nil
	case "activity":
		var payload struct {
			ReportID string `json:"report_id"`
		}
		var err error
		if evt.Payload != "" {
			if uerr := json.Unmarshal([]byte(evt.Payload), &payload); uerr != nil {
				err = fmt.Errorf("decode %s payload: %w", evt.Type, uerr)
				payload.ReportID = ""
			}
		}
		keys := activityKeys(payload.ReportID, evt.EntityID)
		if payload.ReportID == "" {
			keys = append(keys, cache.K(ReportActivitiesKey), cache.K(ReportWithActivitiesKey))
		}
		return keys, err
	case "profile":
		return profileKeys(), nil
	case "goal":
		return []cache.Key{cache.K(GoalsKey)}, nil
	}
	return nil, nil
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"museu/internal/domain"
	"museu/internal/engine/auth"
	"museu/internal/events"
	"museu/internal/lifecycle"
	"museu/internal/repo"
)

const searchLimit = 50

func activityPayload(a domain.Activity, authorID string) events.EventPayload {
	p := events.EventPayload{"report_id": a.ReportID, "author_id": authorID, "status": a.Status}
	if a.LinkedActivityID != "" {
		p["linked_activity_id"] = a.LinkedActivityID
	}
	return p
}

// SaveActivity creates the activity when a.ID is empty, otherwise replaces it.
// The parent report must be editable by the actor.
func (e Engine) SaveActivity(ctx context.Context, actorID string, a domain.Activity) (domain.Activity, error) {
	if a.Classification == "" {
		a.Classification = domain.ClassRoutine
	}
	if a.Status == "" {
		a.Status = domain.ActivityNotStarted
	}
	if a.Classification != domain.ClassGoalLinked {
		a.GoalNumber, a.GoalDescription, a.GoalStatus = "", "", ""
		a.QuantitativeGoal, a.AchievedResult, a.ContributionPercent = nil, nil, nil
	}
	var saved domain.Activity
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		actor, err := e.reportsActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := lifecycle.ValidateActivity(a); err != nil {
			return err
		}
		if e.Config != nil && a.Museum != "" && !e.Config.HasMuseum(a.Museum) {
			return invalid("museum", fmt.Sprintf("%q is not a museum of the network", a.Museum))
		}
		parent, err := e.Repo.GetReport(ctx, tx, a.ReportID)
		if errors.Is(err, repo.ErrNotFound) {
			return invalid("report_id", fmt.Sprintf("report %s does not exist", a.ReportID))
		}
		if err != nil {
			return err
		}
		if !lifecycle.CanEditActivity(&parent, actor) {
			return &lifecycle.ForbiddenError{Action: fmt.Sprintf("edit activities of a report in status %s", parent.Status)}
		}
		if a.LinkedActivityID != "" {
			if _, err := e.Repo.GetActivity(ctx, tx, a.LinkedActivityID); errors.Is(err, repo.ErrNotFound) {
				return invalid("linked_activity_id", fmt.Sprintf("activity %s does not exist", a.LinkedActivityID))
			} else if err != nil {
				return err
			}
		}
		now := e.now()
		if a.ID == "" {
			a.ID = newID()
			a.CreatedAt = now
			a.UpdatedAt = now
			if err := e.Repo.InsertActivity(ctx, tx, a); err != nil {
				return fmt.Errorf("insert activity: %w", err)
			}
			saved = a
			return emit("activity.created", "activity", a.ID, activityPayload(a, parent.AuthorID))
		}
		current, err := e.Repo.GetActivity(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		if current.ReportID != a.ReportID {
			return invalid("report_id", "an activity cannot move to another report")
		}
		a.CreatedAt = current.CreatedAt
		a.UpdatedAt = now
		if err := e.Repo.UpdateActivity(ctx, tx, a); err != nil {
			return err
		}
		saved = a
		return emit("activity.updated", "activity", a.ID, activityPayload(a, parent.AuthorID))
	})
	return saved, err
}

func (e Engine) GetActivity(ctx context.Context, actorID, id string) (domain.Activity, error) {
	actor, err := e.reportsActor(ctx, nil, actorID)
	if err != nil {
		return domain.Activity{}, err
	}
	a, err := e.Repo.GetActivity(ctx, nil, id)
	if err != nil {
		return a, err
	}
	parent, err := e.Repo.GetReport(ctx, nil, a.ReportID)
	if err != nil {
		return domain.Activity{}, err
	}
	if !lifecycle.CanViewReport(parent, actor) {
		return domain.Activity{}, auth.ForbiddenError{Permission: "reports.view"}
	}
	return a, nil
}

// ListActivities returns every activity in the network.
func (e Engine) ListActivities(ctx context.Context, actorID string) ([]domain.Activity, error) {
	actor, err := e.actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireOverview(actor); err != nil {
		return nil, err
	}
	return e.Repo.ListActivities(ctx, nil, repo.ActivityFilters{})
}

func (e Engine) ActivitiesForReport(ctx context.Context, actorID, reportID string) ([]domain.Activity, error) {
	if _, err := e.GetReport(ctx, actorID, reportID); err != nil {
		return nil, err
	}
	return e.Repo.ListActivities(ctx, nil, repo.ActivityFilters{ReportID: reportID})
}

// SearchActivities finds activities by name across the network so that a
// professional can link to an event another colleague already recorded.
func (e Engine) SearchActivities(ctx context.Context, actorID, query string) ([]domain.Activity, error) {
	if _, err := e.reportsActor(ctx, nil, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListActivities(ctx, nil, repo.ActivityFilters{NameLike: query, Limit: searchLimit})
}

func (e Engine) DeleteActivity(ctx context.Context, actorID, id string) error {
	return e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		actor, err := e.reportsActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		a, err := e.Repo.GetActivity(ctx, tx, id)
		if err != nil {
			return err
		}
		parent, err := e.Repo.GetReport(ctx, tx, a.ReportID)
		if err != nil {
			return err
		}
		if !lifecycle.CanEditActivity(&parent, actor) {
			return &lifecycle.ForbiddenError{Action: fmt.Sprintf("delete activities of a report in status %s", parent.Status)}
		}
		if err := e.Repo.DeleteActivity(ctx, tx, id); err != nil {
			return err
		}
		return emit("activity.deleted", "activity", id, activityPayload(a, parent.AuthorID))
	})
}

package engine

import (
	"context"

	"museu/internal/domain"
	"museu/internal/engine/auth"
	"museu/internal/repo"
	"museu/internal/views"
)

// scope loads the reports and activities visible to actor. Professionals only
// see their own records; reviewers and coordinators see the whole network.
func (e Engine) scope(ctx context.Context, actorID string) ([]domain.Report, []domain.Activity, error) {
	actor, err := e.reportsActor(ctx, nil, actorID)
	if err != nil {
		return nil, nil, err
	}
	filter := repo.ReportFilters{}
	if auth.RequireOverview(actor) != nil {
		filter.AuthorID = actor.PrincipalID
	}
	reports, err := e.Repo.ListReports(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	activities, err := e.Repo.ListActivities(ctx, nil, repo.ActivityFilters{})
	if err != nil {
		return nil, nil, err
	}
	if filter.AuthorID != "" {
		activities = ofReports(reports, activities)
	}
	return reports, activities, nil
}

func ofReports(reports []domain.Report, activities []domain.Activity) []domain.Activity {
	ids := make(map[string]bool, len(reports))
	for _, r := range reports {
		ids[r.ID] = true
	}
	out := make([]domain.Activity, 0, len(activities))
	for _, a := range activities {
		if ids[a.ReportID] {
			out = append(out, a)
		}
	}
	return out
}

// Dashboard builds the consolidated aggregates for filter.
func (e Engine) Dashboard(ctx context.Context, actorID string, f views.Filter) (views.Dashboard, error) {
	reports, activities, err := e.scope(ctx, actorID)
	if err != nil {
		return views.Dashboard{}, err
	}
	return views.BuildDashboard(reports, activities, f), nil
}

// TotalAudience answers an audience query over the visible records.
func (e Engine) TotalAudience(ctx context.Context, actorID string, q domain.AudienceQuery) (int, error) {
	reports, activities, err := e.scope(ctx, actorID)
	if err != nil {
		return 0, err
	}
	return views.AudienceFor(q, reports, activities), nil
}

// ExportData returns everything the consolidated export joins.
func (e Engine) ExportData(ctx context.Context, actorID string) ([]domain.Report, []domain.Activity, []domain.UserProfile, error) {
	actor, err := e.actor(ctx, nil, actorID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := auth.RequireOverview(actor); err != nil {
		return nil, nil, nil, err
	}
	reports, activities, err := e.scope(ctx, actorID)
	if err != nil {
		return nil, nil, nil, err
	}
	profiles, err := e.Repo.ListProfiles(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return reports, activities, profiles, nil
}

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"museu/internal/domain"
	"museu/internal/engine"
	"museu/internal/export"
	"museu/internal/repo"
	"museu/internal/views"
)

func registerGoals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/goals",
		Summary:     "List goals",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Goal], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		items, err := e.ListGoals(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-goal",
		Method:        http.MethodPost,
		Path:          "/goals",
		Summary:       "Add goal",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body GoalRequest `json:"body"`
	}) (*out[domain.Goal], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		g, err := e.AddGoal(ctx, actorID, domain.Goal{
			Number:      input.Body.Number,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Target:      input.Body.Target,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(g), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-goal",
		Method:      http.MethodPost,
		Path:        "/goals/{id}/toggle",
		Summary:     "Activate or deactivate a goal",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *reportPath) (*out[domain.Goal], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		g, err := e.ToggleGoal(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(g), nil
	})
}

type dashboardQuery struct {
	Month    string `query:"month" enum:"march,april,may,june,july,august,september,october,november,december"`
	Year     string `query:"year"`
	Museum   string `query:"museum"`
	AuthorID string `query:"author_id"`
}

type audienceQuery struct {
	Type       string `query:"type" enum:"cumulative,month,range"`
	Month      string `query:"month"`
	Year       string `query:"year"`
	StartMonth string `query:"start_month"`
	StartYear  string `query:"start_year"`
	EndMonth   string `query:"end_month"`
	EndYear    string `query:"end_year"`
}

func lookup(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func registerInsights(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Dashboard aggregates",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *dashboardQuery) (*out[views.Dashboard], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		f, err := views.ParseFilter(lookup(map[string]string{
			"month": input.Month, "year": input.Year, "museum": input.Museum, "author_id": input.AuthorID,
		}))
		if err != nil {
			return nil, badRequest(err)
		}
		d, err := e.Dashboard(ctx, actorID, f)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "total-audience",
		Method:      http.MethodGet,
		Path:        "/audience",
		Summary:     "Total audience for a period query",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *audienceQuery) (*out[AudienceResponse], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		q, err := domain.ParseAudienceQuery(lookup(map[string]string{
			"type": input.Type, "month": input.Month, "year": input.Year,
			"start_month": input.StartMonth, "start_year": input.StartYear,
			"end_month": input.EndMonth, "end_year": input.EndYear,
		}))
		if err != nil {
			return nil, badRequest(err)
		}
		total, err := e.TotalAudience(ctx, actorID, q)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(AudienceResponse{Query: domain.AudienceQueryParams(q), Total: total}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-rows",
		Method:      http.MethodGet,
		Path:        "/export",
		Summary:     "Consolidated export rows",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[[]export.Row], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		reports, activities, profiles, err := e.ExportData(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(export.Rows(reports, activities, profiles)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Cursor     int64  `query:"cursor" doc:"return events older than this id"`
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*out[[]domain.Event], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		items, err := e.ListEvents(ctx, actorID, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     input.Cursor,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items), nil
	})
}

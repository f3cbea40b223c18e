package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"museu/internal/domain"
	"museu/internal/engine"
)

func registerActivities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-activity",
		Method:        http.MethodPost,
		Path:          "/activities",
		Summary:       "Create activity",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body ActivityRequest `json:"body"`
	}) (*out[domain.Activity], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if input.Body.ReportID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "report_id is required", nil)
		}
		a, err := e.SaveActivity(ctx, actorID, input.Body.activity(""))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "List all activities",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Activity], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		items, err := e.ListActivities(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-activities",
		Method:      http.MethodGet,
		Path:        "/activities/search",
		Summary:     "Search activities by name",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Q string `query:"q" doc:"name fragment"`
	}) (*out[[]domain.Activity], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		items, err := e.SearchActivities(ctx, actorID, input.Q)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-activity",
		Method:      http.MethodGet,
		Path:        "/activities/{id}",
		Summary:     "Get activity",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *reportPath) (*out[domain.Activity], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		a, err := e.GetActivity(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-activity",
		Method:      http.MethodPut,
		Path:        "/activities/{id}",
		Summary:     "Update activity",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ActivityRequest `json:"body"`
	}) (*out[domain.Activity], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		next := input.Body.activity(input.ID)
		if next.ReportID == "" {
			current, err := e.GetActivity(ctx, actorID, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			next.ReportID = current.ReportID
		}
		a, err := e.SaveActivity(ctx, actorID, next)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-activity",
		Method:      http.MethodDelete,
		Path:        "/activities/{id}",
		Summary:     "Delete activity",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *reportPath) (*out[DeletedResponse], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := e.DeleteActivity(ctx, actorID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return reply(DeletedResponse{ID: input.ID, Deleted: true}), nil
	})
}

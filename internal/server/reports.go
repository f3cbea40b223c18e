package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"museu/internal/domain"
	"museu/internal/engine"
)

type reportPath struct {
	ID string `path:"id"`
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Create draft report",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body ReportRequest `json:"body"`
	}) (*out[domain.Report], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		r, err := e.SaveReport(ctx, actorID, input.Body.report(""))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List all reports",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Report], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		items, err := e.ListReports(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-user-reports",
		Method:      http.MethodGet,
		Path:        "/users/{principal_id}/reports",
		Summary:     "List reports authored by a user",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		PrincipalID string `path:"principal_id"`
	}) (*out[[]domain.Report], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		items, err := e.ReportsForUser(ctx, actorID, input.PrincipalID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{id}",
		Summary:     "Get report",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *reportPath) (*out[domain.Report], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		r, err := e.GetReport(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report-full",
		Method:      http.MethodGet,
		Path:        "/reports/{id}/full",
		Summary:     "Get report with its activities",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *reportPath) (*out[domain.ReportWithActivities], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		r, err := e.ReportWithActivities(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-report",
		Method:      http.MethodPut,
		Path:        "/reports/{id}",
		Summary:     "Update report narrative",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReportRequest `json:"body"`
	}) (*out[domain.Report], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		r, err := e.SaveReport(ctx, actorID, input.Body.report(input.ID))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-report",
		Method:      http.MethodDelete,
		Path:        "/reports/{id}",
		Summary:     "Delete report",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *reportPath) (*out[DeletedResponse], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := e.DeleteReport(ctx, actorID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return reply(DeletedResponse{ID: input.ID, Deleted: true}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-report",
		Method:      http.MethodPost,
		Path:        "/reports/{id}/submit",
		Summary:     "Submit report for review",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *reportPath) (*out[domain.Report], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		r, err := e.SubmitReport(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-report",
		Method:      http.MethodPost,
		Path:        "/reports/{id}/review",
		Summary:     "Approve or return a report",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReviewRequest `json:"body"`
	}) (*out[domain.Report], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		r, err := e.ReviewReport(ctx, actorID, input.ID, domain.ReviewAction(input.Body.Action), input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stage-report",
		Method:      http.MethodPost,
		Path:        "/reports/{id}/stage",
		Summary:     "Move a report between review stages",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body StageRequest `json:"body"`
	}) (*out[domain.Report], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		r, err := e.SetReviewStage(ctx, actorID, input.ID, domain.ReportStatus(input.Body.Stage))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-report",
		Method:      http.MethodPut,
		Path:        "/reports/{id}/signature",
		Summary:     "Attach signature image",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SignatureRequest `json:"body"`
	}) (*out[domain.Report], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		sig := domain.Signature{MimeType: input.Body.MimeType, Data: input.Body.Data}
		r, err := e.UploadSignature(ctx, actorID, input.ID, sig)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-report-coordination",
		Method:      http.MethodPut,
		Path:        "/reports/{id}/coordination",
		Summary:     "Update coordination fields",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CoordinationRequest `json:"body"`
	}) (*out[domain.Report], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		r, err := e.UpdateCoordinationFields(ctx, actorID, input.ID, input.Body.fields())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-report-activities",
		Method:      http.MethodGet,
		Path:        "/reports/{id}/activities",
		Summary:     "List activities of a report",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *reportPath) (*out[[]domain.Activity], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		items, err := e.ActivitiesForReport(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items), nil
	})
}

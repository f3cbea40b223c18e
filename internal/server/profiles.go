package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"museu/internal/domain"
	"museu/internal/engine"
)

type principalPath struct {
	PrincipalID string `path:"principal_id"`
}

func registerProfiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current profile",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[domain.UserProfile], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		p, err := e.OwnProfile(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-me",
		Method:      http.MethodPut,
		Path:        "/me",
		Summary:     "Update own profile",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Body ProfileRequest `json:"body"`
	}) (*out[domain.UserProfile], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		p, err := e.SaveOwnProfile(ctx, actorID, input.Body.input())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-me-approved",
		Method:      http.MethodGet,
		Path:        "/me/approved",
		Summary:     "Whether the current user is approved",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[ApprovedResponse], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		ok, err := e.IsApproved(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ApprovedResponse{Approved: ok}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-approval",
		Method:      http.MethodPost,
		Path:        "/me/approval-request",
		Summary:     "Ask to be approved",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[domain.UserProfile], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		p, err := e.RequestApproval(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Mint an API key for the current user",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body APIKeyRequest `json:"body"`
	}) (*out[APIKeyResponse], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		raw, key, err := e.CreateAPIKey(ctx, actorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(APIKeyResponse{Key: raw, APIKey: key}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/api-keys",
		Summary:     "List the current user's API keys",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.APIKey], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		keys, err := e.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(keys), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-api-key",
		Method:      http.MethodDelete,
		Path:        "/me/api-keys/{id}",
		Summary:     "Revoke one of the current user's API keys",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *reportPath) (*out[DeletedResponse], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := e.RevokeAPIKey(ctx, actorID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return reply(DeletedResponse{ID: input.ID, Deleted: true}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/profiles",
		Summary:     "List profiles",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.UserProfile], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		items, err := e.ListProfiles(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-profile",
		Method:      http.MethodPut,
		Path:        "/profiles/{principal_id}",
		Summary:     "Update another profile",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		PrincipalID string         `path:"principal_id"`
		Body        ProfileRequest `json:"body"`
	}) (*out[domain.UserProfile], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		p, err := e.UpdateProfile(ctx, actorID, input.PrincipalID, input.Body.input())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-profile-role",
		Method:      http.MethodPut,
		Path:        "/profiles/{principal_id}/role",
		Summary:     "Assign application role",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		PrincipalID string      `path:"principal_id"`
		Body        RoleRequest `json:"body"`
	}) (*out[domain.UserProfile], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		p, err := e.UpdateRole(ctx, actorID, input.PrincipalID, domain.AppRole(input.Body.Role))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-profile-approval",
		Method:      http.MethodPut,
		Path:        "/profiles/{principal_id}/approval",
		Summary:     "Approve or reject a user",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		PrincipalID string          `path:"principal_id"`
		Body        ApprovalRequest `json:"body"`
	}) (*out[domain.UserProfile], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		p, err := e.SetApproval(ctx, actorID, input.PrincipalID, domain.ApprovalStatus(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-profile",
		Method:      http.MethodDelete,
		Path:        "/profiles/{principal_id}",
		Summary:     "Delete a profile",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *principalPath) (*out[DeletedResponse], error) {
		actorID, herr := actorIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := e.DeleteProfile(ctx, actorID, input.PrincipalID); err != nil {
			return nil, handleError(err)
		}
		return reply(DeletedResponse{ID: input.PrincipalID, Deleted: true}), nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, cfg AuthConfig) {
	if !cfg.AllowDevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a development token",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*out[TokenResponse], error) {
		if input.Body.PrincipalID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "principal_id is required", nil)
		}
		ttl := cfg.tokenTTL()
		token, err := signDevToken(cfg.JWTSecret, input.Body.PrincipalID, input.Body.Name, time.Now(), ttl)
		if err != nil {
			return nil, handleError(err)
		}
		cfg.logger().Printf("dev login issued token for %s", input.Body.PrincipalID)
		return reply(TokenResponse{Token: token, ExpiresIn: int64(ttl / time.Second)}), nil
	})
}

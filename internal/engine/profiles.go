package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"museu/internal/domain"
	"museu/internal/engine/auth"
	"museu/internal/events"
	"museu/internal/lifecycle"
)

// ProfileInput carries the descriptive fields of a profile.
type ProfileInput struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Team  string `json:"team,omitempty"`
}

func (e Engine) reservedName() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Coordination.ReservedName
}

// applyProfileInput updates descriptive fields and keeps the coordination
// holder's name tied to the reserved identity.
func (e Engine) applyProfileInput(p domain.UserProfile, in ProfileInput) (domain.UserProfile, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return p, invalid("name", "is required")
	}
	if e.Config != nil && in.Team != "" && !e.Config.HasMuseum(in.Team) {
		return p, invalid("team", fmt.Sprintf("%q is not a museum of the network", in.Team))
	}
	if p.AppRole == domain.RoleCoordination && !lifecycle.SameName(name, e.reservedName()) {
		return p, invalid("name", "the coordination profile must keep the reserved name")
	}
	p.Name = name
	p.Email = strings.TrimSpace(in.Email)
	p.Team = in.Team
	p.UpdatedAt = e.now()
	return p, nil
}

// OwnProfile returns the acting principal's profile.
func (e Engine) OwnProfile(ctx context.Context, actorID string) (domain.UserProfile, error) {
	return e.actor(ctx, nil, actorID)
}

// IsApproved reports whether the actor passed the approval gate.
func (e Engine) IsApproved(ctx context.Context, actorID string) (bool, error) {
	p, err := e.actor(ctx, nil, actorID)
	if err != nil {
		return false, err
	}
	return lifecycle.CanUseReports(p), nil
}

func (e Engine) SaveOwnProfile(ctx context.Context, actorID string, in ProfileInput) (domain.UserProfile, error) {
	var out domain.UserProfile
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		p, err := e.actor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if out, err = e.applyProfileInput(p, in); err != nil {
			return err
		}
		if err := e.Repo.UpdateProfile(ctx, tx, out); err != nil {
			return err
		}
		return emit("profile.updated", "profile", out.PrincipalID, events.EventPayload{"name": out.Name, "team": out.Team})
	})
	return out, err
}

// RequestApproval puts a rejected profile back in the queue. Approved
// profiles are returned unchanged.
func (e Engine) RequestApproval(ctx context.Context, actorID string) (domain.UserProfile, error) {
	var out domain.UserProfile
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		p, err := e.actor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		out = p
		if p.ApprovalStatus == domain.ApprovalApproved {
			return nil
		}
		out.ApprovalStatus = domain.ApprovalPending
		out.UpdatedAt = e.now()
		if err := e.Repo.UpdateProfile(ctx, tx, out); err != nil {
			return err
		}
		return emit("profile.approval_requested", "profile", out.PrincipalID, events.EventPayload{"from": p.ApprovalStatus})
	})
	return out, err
}

func (e Engine) ListProfiles(ctx context.Context, actorID string) ([]domain.UserProfile, error) {
	actor, err := e.actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireOverview(actor); err != nil {
		return nil, err
	}
	return e.Repo.ListProfiles(ctx)
}

// manage loads actor and target for a user administration mutation.
func (e Engine) manage(ctx context.Context, tx *sql.Tx, actorID, principalID string) (domain.UserProfile, error) {
	actor, err := e.actor(ctx, tx, actorID)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if err := auth.RequireManager(actor); err != nil {
		return domain.UserProfile{}, err
	}
	return e.Repo.GetProfile(ctx, tx, principalID)
}

// UpdateRole assigns role to principalID. Coordination is reserved for the
// configured identity.
func (e Engine) UpdateRole(ctx context.Context, actorID, principalID string, role domain.AppRole) (domain.UserProfile, error) {
	var out domain.UserProfile
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		target, err := e.manage(ctx, tx, actorID, principalID)
		if err != nil {
			return err
		}
		if err := lifecycle.ValidateRoleAssignment(target, role, e.reservedName()); err != nil {
			return err
		}
		if role == domain.RoleCoordination && target.AppRole != domain.RoleCoordination {
			n, err := e.Repo.CountRole(ctx, tx, domain.RoleCoordination)
			if err != nil {
				return err
			}
			if n > 0 {
				return invalid("app_role", "coordination is already assigned")
			}
		}
		out = target
		out.AppRole = role
		out.UpdatedAt = e.now()
		if err := e.Repo.UpdateProfile(ctx, tx, out); err != nil {
			return err
		}
		return emit("profile.role", "profile", principalID, events.EventPayload{"from": target.AppRole, "to": role})
	})
	return out, err
}

func (e Engine) UpdateProfile(ctx context.Context, actorID, principalID string, in ProfileInput) (domain.UserProfile, error) {
	var out domain.UserProfile
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		target, err := e.manage(ctx, tx, actorID, principalID)
		if err != nil {
			return err
		}
		if out, err = e.applyProfileInput(target, in); err != nil {
			return err
		}
		if err := e.Repo.UpdateProfile(ctx, tx, out); err != nil {
			return err
		}
		return emit("profile.updated", "profile", principalID, events.EventPayload{"name": out.Name, "team": out.Team})
	})
	return out, err
}

// DeleteProfile removes a profile. Reports it authored stay in the record.
func (e Engine) DeleteProfile(ctx context.Context, actorID, principalID string) error {
	if actorID == principalID {
		return invalid("principal_id", "cannot delete your own profile")
	}
	return e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		target, err := e.manage(ctx, tx, actorID, principalID)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteAPIKeysFor(ctx, tx, principalID); err != nil {
			return err
		}
		if err := e.Repo.DeleteProfile(ctx, tx, principalID); err != nil {
			return err
		}
		return emit("profile.deleted", "profile", principalID, events.EventPayload{"app_role": target.AppRole})
	})
}

// SetApproval approves or rejects a profile.
func (e Engine) SetApproval(ctx context.Context, actorID, principalID string, status domain.ApprovalStatus) (domain.UserProfile, error) {
	if status != domain.ApprovalApproved && status != domain.ApprovalRejected {
		return domain.UserProfile{}, invalid("approval_status", fmt.Sprintf("must be approved or rejected, got %q", status))
	}
	var out domain.UserProfile
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		target, err := e.manage(ctx, tx, actorID, principalID)
		if err != nil {
			return err
		}
		out = target
		out.ApprovalStatus = status
		out.UpdatedAt = e.now()
		if err := e.Repo.UpdateProfile(ctx, tx, out); err != nil {
			return err
		}
		return emit("profile.approval", "profile", principalID, events.EventPayload{"from": target.ApprovalStatus, "to": status})
	})
	return out, err
}

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"museu/internal/config"
	"museu/internal/domain"
	"museu/internal/lifecycle"
	"museu/internal/repo"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// UnknownPrincipalError is returned when a principal has no profile yet.
type UnknownPrincipalError struct {
	PrincipalID string
}

func (e UnknownPrincipalError) Error() string {
	return fmt.Sprintf("principal %s has no profile", e.PrincipalID)
}

// Service resolves principals to profiles backed by SQL.
type Service struct {
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// NewProfile is the profile a principal gets on first contact: an approved
// administrator when listed in config, otherwise a pending professional.
func (s Service) NewProfile(principalID, name string) domain.UserProfile {
	now := s.now().UTC()
	p := domain.UserProfile{
		PrincipalID:    principalID,
		Name:           strings.TrimSpace(name),
		AppRole:        domain.RoleProfessional,
		ApprovalStatus: domain.ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.Name == "" {
		p.Name = principalID
	}
	if s.Config != nil && s.Config.IsAdministrator(principalID) {
		p.AppRole = domain.RoleAdministration
		p.ApprovalStatus = domain.ApprovalApproved
	}
	return p
}

// Provision inserts the profile for principalID if it is missing.
func (s Service) Provision(ctx context.Context, tx *sql.Tx, principalID, name string) (domain.UserProfile, bool, error) {
	if strings.TrimSpace(principalID) == "" {
		return domain.UserProfile{}, false, errors.New("principal_id required")
	}
	created, err := s.Repo.EnsureProfile(ctx, tx, s.NewProfile(principalID, name))
	if err != nil {
		return domain.UserProfile{}, false, err
	}
	p, err := s.Repo.GetProfile(ctx, tx, principalID)
	return p, created, err
}

// Actor loads the acting profile.
func (s Service) Actor(ctx context.Context, tx *sql.Tx, principalID string) (domain.UserProfile, error) {
	p, err := s.Repo.GetProfile(ctx, tx, principalID)
	if errors.Is(err, repo.ErrNotFound) {
		return p, UnknownPrincipalError{PrincipalID: principalID}
	}
	return p, err
}

// RequireReports applies the approval gate for report features.
func RequireReports(actor domain.UserProfile) error {
	if !lifecycle.CanUseReports(actor) {
		return ForbiddenError{Permission: "reports (profile " + string(actor.ApprovalStatus) + ")"}
	}
	return nil
}

// RequireManager gates user and goal administration.
func RequireManager(actor domain.UserProfile) error {
	if !lifecycle.CanManageUsers(actor) {
		return ForbiddenError{Permission: "users.manage"}
	}
	return nil
}

// RequireOverview gates network-wide listings: reviewers and coordinators.
func RequireOverview(actor domain.UserProfile) error {
	if lifecycle.IsPrivileged(actor) || actor.AppRole == domain.RoleCoordinator {
		return RequireReports(actor)
	}
	return ForbiddenError{Permission: "reports.overview"}
}

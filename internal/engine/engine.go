package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"museu/internal/config"
	"museu/internal/domain"
	"museu/internal/engine/auth"
	"museu/internal/events"
	"museu/internal/lifecycle"
	"museu/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{DB: db},
		Auth:   auth.Service{Repo: r, Config: cfg},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// clock keeps Events and Auth on the engine clock.
func (e Engine) clock() Engine {
	e.Events.Now = e.now
	e.Auth.Now = e.now
	return e
}

func newID() string {
	return uuid.NewString()
}

func invalid(field, reason string) error {
	return &lifecycle.ValidationError{Field: field, Reason: reason}
}

type emitFunc = func(evtType, kind, id string, payload events.EventPayload) error

type txFunc func(tx *sql.Tx, emit emitFunc) error

// mutate runs fn in a transaction as actorID and publishes the events it
// appended once the transaction commits.
func (e Engine) mutate(ctx context.Context, actorID string, fn txFunc) error {
	e = e.clock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var appended []domain.Event
	emit := func(evtType, kind, id string, payload events.EventPayload) error {
		evt, err := e.Events.Append(ctx, tx, evtType, kind, id, actorID, payload)
		if err != nil {
			return fmt.Errorf("append event %s: %w", evtType, err)
		}
		appended = append(appended, evt)
		return nil
	}
	if err := fn(tx, emit); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Events.Notify(appended...)
	return nil
}

// actor loads the acting profile inside tx (nil for reads).
func (e Engine) actor(ctx context.Context, tx *sql.Tx, principalID string) (domain.UserProfile, error) {
	if principalID == "" {
		return domain.UserProfile{}, errors.New("actor required")
	}
	return e.Auth.Actor(ctx, tx, principalID)
}

// reportsActor loads the acting profile and applies the approval gate.
func (e Engine) reportsActor(ctx context.Context, tx *sql.Tx, principalID string) (domain.UserProfile, error) {
	actor, err := e.actor(ctx, tx, principalID)
	if err != nil {
		return actor, err
	}
	return actor, auth.RequireReports(actor)
}

// Provision makes sure principalID has a profile, creating a pending
// professional (or a configured administrator) on first contact.
func (e Engine) Provision(ctx context.Context, principalID, name string) (domain.UserProfile, error) {
	var p domain.UserProfile
	err := e.mutate(ctx, principalID, func(tx *sql.Tx, emit emitFunc) error {
		var created bool
		var err error
		p, created, err = e.clock().Auth.Provision(ctx, tx, principalID, name)
		if err != nil || !created {
			return err
		}
		return emit("profile.provisioned", "profile", p.PrincipalID, events.EventPayload{
			"app_role": p.AppRole, "approval_status": p.ApprovalStatus,
		})
	})
	return p, err
}

// SeedGoals inserts configured goals that are not present yet.
func (e Engine) SeedGoals(ctx context.Context, seeds []config.GoalSeed) (int, error) {
	added := 0
	err := e.mutate(ctx, "system", func(tx *sql.Tx, emit emitFunc) error {
		for _, s := range seeds {
			g := domain.Goal{
				ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte("goal|"+s.Number)).String(),
				Number:    s.Number,
				Name:      s.Name,
				Target:    s.Target,
				Active:    true,
				CreatedAt: e.now(),
			}
			ok, err := e.Repo.InsertGoalIfMissing(ctx, tx, g)
			if err != nil {
				return fmt.Errorf("seed goal %s: %w", s.Number, err)
			}
			if !ok {
				continue
			}
			added++
			if err := emit("goal.created", "goal", g.ID, events.EventPayload{"number": g.Number}); err != nil {
				return err
			}
		}
		return nil
	})
	return added, err
}

// CreateAPIKey mints a key for the acting principal and stores its hash.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (string, domain.APIKey, error) {
	raw := "mk_" + uuid.NewString()
	key := domain.APIKey{
		ID:        newID(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.now().Format(time.RFC3339),
	}
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		if _, err := e.actor(ctx, tx, actorID); err != nil {
			return err
		}
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return emit("apikey.created", "api_key", key.ID, events.EventPayload{"name": name})
	})
	if err != nil {
		return "", domain.APIKey{}, err
	}
	return raw, key, nil
}

// ListAPIKeys lists the keys of the acting principal. Hashes never leave the server.
func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	if _, err := e.actor(ctx, nil, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, actorID)
}

// RevokeAPIKey deletes one of the acting principal's keys.
func (e Engine) RevokeAPIKey(ctx context.Context, actorID, id string) error {
	return e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		if err := e.Repo.RevokeAPIKey(ctx, tx, id, actorID); err != nil {
			return err
		}
		return emit("apikey.revoked", "api_key", id, nil)
	})
}

// ListEvents lists audit events newest first. Only managers may read the log.
func (e Engine) ListEvents(ctx context.Context, actorID string, f repo.EventFilters) ([]domain.Event, error) {
	actor, err := e.actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireManager(actor); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, f)
}

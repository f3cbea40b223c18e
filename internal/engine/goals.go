package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"museu/internal/domain"
	"museu/internal/engine/auth"
	"museu/internal/events"
)

// ListGoals is open to every profile, approved or not.
func (e Engine) ListGoals(ctx context.Context, actorID string) ([]domain.Goal, error) {
	if _, err := e.actor(ctx, nil, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListGoals(ctx)
}

func (e Engine) AddGoal(ctx context.Context, actorID string, g domain.Goal) (domain.Goal, error) {
	g.Number = strings.TrimSpace(g.Number)
	g.Name = strings.TrimSpace(g.Name)
	if g.Number == "" {
		return domain.Goal{}, invalid("number", "is required")
	}
	if g.Name == "" {
		return domain.Goal{}, invalid("name", "is required")
	}
	if g.Target != nil && *g.Target < 0 {
		return domain.Goal{}, invalid("target", "must not be negative")
	}
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		actor, err := e.actor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := auth.RequireManager(actor); err != nil {
			return err
		}
		g.ID = newID()
		g.Active = true
		g.CreatedAt = e.now()
		ok, err := e.Repo.InsertGoalIfMissing(ctx, tx, g)
		if err != nil {
			return err
		}
		if !ok {
			return invalid("number", fmt.Sprintf("goal %s already exists", g.Number))
		}
		return emit("goal.created", "goal", g.ID, events.EventPayload{"number": g.Number})
	})
	if err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

// ToggleGoal flips the active flag.
func (e Engine) ToggleGoal(ctx context.Context, actorID, id string) (domain.Goal, error) {
	var out domain.Goal
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		actor, err := e.actor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := auth.RequireManager(actor); err != nil {
			return err
		}
		g, err := e.Repo.GetGoal(ctx, tx, id)
		if err != nil {
			return err
		}
		g.Active = !g.Active
		if err := e.Repo.SetGoalActive(ctx, tx, id, g.Active); err != nil {
			return err
		}
		out = g
		return emit("goal.toggled", "goal", id, events.EventPayload{"active": g.Active})
	})
	return out, err
}

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"museu/internal/domain"
)

// Publisher receives events after the transaction that wrote them committed.
type Publisher interface {
	Publish(evt domain.Event)
}

type Writer struct {
	DB   *sql.DB
	Now  func() time.Time
	Sink Publisher
}

type EventPayload map[string]any

// Append writes an audit event inside tx. The returned event carries its row id
// and is handed to Notify once the caller commits.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) (domain.Event, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return domain.Event{}, err
	}
	id, _ := res.LastInsertId()
	return domain.Event{
		ID:         id,
		TS:         ts,
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	}, nil
}

// Notify forwards committed events to the sink, if any.
func (w Writer) Notify(evts ...domain.Event) {
	if w.Sink == nil {
		return
	}
	for _, evt := range evts {
		w.Sink.Publish(evt)
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

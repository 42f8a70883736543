package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"taskmarket/internal/domain"
)

const (
	ProfileCreated         = "profile.created"
	ProfileUpdated         = "profile.updated"
	ProfileSkillsUpdated   = "profile.skills.updated"
	SkillAdded             = "skill.added"
	TaskCreated            = "task.created"
	TaskShortlisted        = "task.shortlisted"
	TaskDiscarded          = "task.discarded"
	ApplicationSubmitted   = "application.submitted"
	ApplicationRejected    = "application.rejected"
	ApplicationShortlisted = "application.shortlisted"
	ApplicantAccepted      = "applicant.accepted"
	TaskCompleted          = "task.completed"
	TaskDeleted            = "task.deleted"
	HelperRated            = "helper.rated"
	APIKeyCreated          = "api_key.created"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits or rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := domain.FormatTime(w.Now())
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

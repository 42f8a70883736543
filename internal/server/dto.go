package server

import (
	"encoding/json"

	"taskmarket/internal/domain"
	"taskmarket/internal/repo"
)

// Request payloads

type DevLoginRequest struct {
	ProfileID string `json:"profile_id,omitempty"`
	Username  string `json:"username,omitempty"`
}

type CreateProfileRequest struct {
	Username    string `json:"username" minLength:"1"`
	Email       string `json:"email,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	Photo       string `json:"photo,omitempty"`
}

type UpdateProfileRequest struct {
	Email       *string `json:"email,omitempty"`
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	Location    *string `json:"location,omitempty"`
	Description *string `json:"description,omitempty"`
	Photo       *string `json:"photo,omitempty"`
}

type UpdateSkillsRequest struct {
	SkillIDs []string `json:"skill_ids"`
}

type CreateTaskRequest struct {
	Title       string   `json:"title" minLength:"1"`
	Description string   `json:"description" minLength:"1"`
	Points      int      `json:"points,omitempty" minimum:"0"`
	Location    string   `json:"location" minLength:"1"`
	IsRemote    bool     `json:"is_remote,omitempty"`
	Questions   []string `json:"questions,omitempty" maxItems:"3"`
	Skills      []string `json:"skills,omitempty" doc:"skill codes; unknown codes are ignored"`
}

type ApplyRequest struct {
	Answers []string `json:"answers,omitempty" maxItems:"3"`
	Quote   *int     `json:"quote,omitempty"`
}

type AcceptRequest struct {
	ApplicantID string `json:"applicant_id" minLength:"1"`
}

type RateRequest struct {
	ApplicantID string `json:"applicant_id" minLength:"1"`
	Rating      int    `json:"rating"`
}

// Response payloads

type DevLoginResponse struct {
	Token     string `json:"token"`
	ProfileID string `json:"profile_id"`
}

type MeResponse struct {
	Profile domain.Profile `json:"profile"`
	Source  string         `json:"source"`
}

type InteractionResponse struct {
	State  domain.ProfileTaskStatus `json:"state"`
	Record *domain.ProfileTask      `json:"record,omitempty"`
}

// TaskDetailResponse is a task plus, for an authenticated caller, how the
// caller has interacted with it.
type TaskDetailResponse struct {
	domain.Task
	Interaction *InteractionResponse `json:"interaction,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	resp := EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
	}
	if evt.Payload != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err == nil {
			resp.Payload = payload
		}
	}
	return resp
}

func eventFilters(evtType, entityKind, entityID string, limit int, cursor int64) repo.EventFilters {
	return repo.EventFilters{Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: limit, Cursor: cursor}
}

func interactionResponse(in domain.Interaction) *InteractionResponse {
	return &InteractionResponse{State: in.State, Record: in.Record}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

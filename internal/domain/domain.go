package domain

import "time"

// TimeLayout is the fixed-width UTC layout used for every stored timestamp,
// so text comparison orders the same way as time comparison.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

type TaskStatus string

const (
	TaskOpen       TaskStatus = "OPEN"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskComplete   TaskStatus = "COMPLETE"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskOpen, TaskInProgress, TaskComplete:
		return true
	}
	return false
}

// ProfileTaskStatus is the state of a helper's relationship to a task.
type ProfileTaskStatus string

const (
	// NoInteraction marks the absence of a ProfileTask row. It is never stored.
	NoInteraction ProfileTaskStatus = "NO_INTERACTION"

	Shortlisted            ProfileTaskStatus = "SHORTLISTED"
	Applied                ProfileTaskStatus = "APPLIED"
	ApplicationShortlisted ProfileTaskStatus = "APPLICATION_SHORTLISTED"
	Assigned               ProfileTaskStatus = "ASSIGNED"
	Rejected               ProfileTaskStatus = "REJECTED"
	Discarded              ProfileTaskStatus = "DISCARDED"
)

// Persisted reports whether s may be stored on a ProfileTask row.
func (s ProfileTaskStatus) Persisted() bool {
	switch s {
	case Shortlisted, Applied, ApplicationShortlisted, Assigned, Rejected, Discarded:
		return true
	}
	return false
}

type Skill struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Title string `json:"title"`
}

type ProfileSkill struct {
	ProfileID string `json:"profile_id"`
	SkillID   string `json:"skill_id"`
	Rating    *int   `json:"rating,omitempty"`
}

type Account struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Profile struct {
	ID             string  `json:"id"`
	AccountID      string  `json:"account_id"`
	Username       string  `json:"username"`
	Email          string  `json:"email,omitempty"`
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	Location       string  `json:"location"`
	Description    string  `json:"description,omitempty"`
	Photo          string  `json:"photo,omitempty"`
	Rating         float64 `json:"rating"`
	ShortlistCount int     `json:"shortlist_count"`
	TasksCompleted int     `json:"tasks_completed"`
	Skills         []Skill `json:"skills"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Points      int        `json:"points"`
	Location    string     `json:"location"`
	IsRemote    bool       `json:"is_remote"`
	Status      TaskStatus `json:"status"`
	OwnerID     string     `json:"owner_id"`
	HelperID    *string    `json:"helper_id,omitempty"`
	Question1   string     `json:"question1,omitempty"`
	Question2   string     `json:"question2,omitempty"`
	Question3   string     `json:"question3,omitempty"`
	Skills      []Skill    `json:"skills"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
}

// RankedTask is a search result. DisplayRank is only set when the search
// was made on behalf of a helper and is never stored.
type RankedTask struct {
	Task
	DisplayRank *int `json:"display_rank,omitempty"`
}

type ProfileTask struct {
	ID        string            `json:"id"`
	TaskID    string            `json:"task_id"`
	ProfileID string            `json:"profile_id"`
	Status    ProfileTaskStatus `json:"status"`
	Answer1   string            `json:"answer1,omitempty"`
	Answer2   string            `json:"answer2,omitempty"`
	Answer3   string            `json:"answer3,omitempty"`
	Quote     *int              `json:"quote,omitempty"`
	Rating    *int              `json:"rating,omitempty"`
	AppliedAt *string           `json:"applied_at,omitempty" format:"date-time"`
	CreatedAt string            `json:"created_at" format:"date-time"`
	UpdatedAt string            `json:"updated_at" format:"date-time"`
}

// Applicant pairs an application with a summary of the applying profile.
type Applicant struct {
	ProfileTask
	Username       string  `json:"username"`
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	ProfileRating  float64 `json:"profile_rating"`
	ShortlistCount int     `json:"shortlist_count"`
	TasksCompleted int     `json:"tasks_completed"`
}

// Interaction is the caller-visible state of a (profile, task) pair.
// Record is nil exactly when State is NoInteraction.
type Interaction struct {
	State  ProfileTaskStatus
	Record *ProfileTask
}

// Allowance reports a profile's application budget for the current window.
type Allowance struct {
	ProfileID string  `json:"profile_id"`
	Rating    float64 `json:"rating"`
	Quota     int     `json:"quota"`
	Used      int     `json:"used"`
	Under     bool    `json:"under_limit"`
	Window    string  `json:"window"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ProfileID string `json:"profile_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

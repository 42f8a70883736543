package engine

import (
	"context"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"taskmarket/internal/domain"
	"taskmarket/internal/events"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	ActorID     string
	Title       string
	Description string
	Points      int
	Location    string
	IsRemote    bool
	Questions   []string
	// SkillCodes are resolved against the catalog; unknown codes are dropped.
	SkillCodes []string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (t domain.Task, err error) {
	const op = "create_task"
	ctx, done := e.trace(ctx, op)
	defer done(&err)

	if err := e.requireActor(op, opts.ActorID); err != nil {
		return domain.Task{}, err
	}
	opts.Title = strings.TrimSpace(opts.Title)
	opts.Location = strings.TrimSpace(opts.Location)
	if opts.Title == "" {
		return domain.Task{}, opErr(op, ErrInvalidInput, "title is required")
	}
	if strings.TrimSpace(opts.Description) == "" {
		return domain.Task{}, opErr(op, ErrInvalidInput, "description is required")
	}
	if opts.Location == "" {
		return domain.Task{}, opErr(op, ErrInvalidInput, "location is required")
	}
	if opts.Points < 0 {
		return domain.Task{}, opErr(op, ErrInvalidInput, "points must not be negative")
	}
	if len(opts.Questions) > 3 {
		return domain.Task{}, opErr(op, ErrInvalidInput, "at most three questions allowed")
	}
	questions := make([]string, 3)
	copy(questions, opts.Questions)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if _, err := e.loadProfile(ctx, tx, op, opts.ActorID); err != nil {
		return domain.Task{}, err
	}
	skills, err := e.Repo.SkillsByCodes(ctx, tx, dedupe(opts.SkillCodes))
	if err != nil {
		return domain.Task{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.stamp()
	t = domain.Task{
		ID:          id,
		Title:       opts.Title,
		Description: opts.Description,
		Points:      opts.Points,
		Location:    opts.Location,
		IsRemote:    opts.IsRemote,
		Status:      domain.TaskOpen,
		OwnerID:     opts.ActorID,
		Question1:   questions[0],
		Question2:   questions[1],
		Question3:   questions[2],
		Skills:      skills,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	skillIDs := make([]string, 0, len(skills))
	codes := make([]string, 0, len(skills))
	for _, s := range skills {
		skillIDs = append(skillIDs, s.ID)
		codes = append(codes, s.Code)
	}
	if err := e.Repo.InsertTaskSkills(ctx, tx, t.ID, skillIDs); err != nil {
		return domain.Task{}, err
	}
	if err := e.events().Append(ctx, tx, events.TaskCreated, "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title, "skills": codes}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Shortlist records the caller's first interest in a task.
func (e Engine) Shortlist(ctx context.Context, actorID, taskID string) (pt domain.ProfileTask, err error) {
	const op = "shortlist"
	ctx, done := e.trace(ctx, op, attribute.String("task.id", taskID))
	defer done(&err)

	if err := e.requireActor(op, actorID); err != nil {
		return pt, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return pt, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, op, taskID)
	if err != nil {
		return pt, err
	}
	if t.OwnerID == actorID {
		return pt, opErr(op, ErrOwnTask, "profile %s owns task %s", actorID, taskID)
	}
	if _, err := e.loadProfile(ctx, tx, op, actorID); err != nil {
		return pt, err
	}
	inter, err := e.loadInteraction(ctx, tx, op, actorID, taskID)
	if err != nil {
		return pt, err
	}
	next, terr := nextProfileTaskStatus(ActShortlist, inter.State)
	if terr != nil {
		return pt, opErr(op, ErrDuplicateInteraction, "profile %s already %s task %s", actorID, strings.ToLower(string(inter.State)), taskID)
	}
	now := e.stamp()
	pt = domain.ProfileTask{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		ProfileID: actorID,
		Status:    next,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.insertInteraction(ctx, tx, op, pt); err != nil {
		return domain.ProfileTask{}, err
	}
	if err := e.events().Append(ctx, tx, events.TaskShortlisted, "profile_task", pt.ID, actorID, events.EventPayload{"task_id": taskID}); err != nil {
		return domain.ProfileTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProfileTask{}, err
	}
	return pt, nil
}

// Discard hides a task from the caller's feed. An existing interaction of
// any other status is overwritten.
func (e Engine) Discard(ctx context.Context, actorID, taskID string) (pt domain.ProfileTask, err error) {
	const op = "discard"
	ctx, done := e.trace(ctx, op, attribute.String("task.id", taskID))
	defer done(&err)

	if err := e.requireActor(op, actorID); err != nil {
		return pt, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return pt, err
	}
	defer tx.Rollback()

	if _, err := e.loadTask(ctx, tx, op, taskID); err != nil {
		return pt, err
	}
	if _, err := e.loadProfile(ctx, tx, op, actorID); err != nil {
		return pt, err
	}
	inter, err := e.loadInteraction(ctx, tx, op, actorID, taskID)
	if err != nil {
		return pt, err
	}
	now := e.stamp()
	payload := events.EventPayload{"task_id": taskID}
	switch {
	case inter.State == domain.Discarded:
		return pt, opErr(op, ErrAlreadyDiscarded, "task %s", taskID)
	case inter.State == domain.NoInteraction:
		next, _ := nextProfileTaskStatus(ActDiscard, inter.State)
		pt = domain.ProfileTask{
			ID:        uuid.NewString(),
			TaskID:    taskID,
			ProfileID: actorID,
			Status:    next,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.insertInteraction(ctx, tx, op, pt); err != nil {
			return domain.ProfileTask{}, err
		}
	default:
		next, terr := nextProfileTaskStatus(ActDiscardOverwrite, inter.State)
		if terr != nil {
			return pt, opErr(op, ErrNotEligible, "%v", terr)
		}
		pt = *inter.Record
		payload["overwritten"] = string(pt.Status)
		pt.Status = next
		pt.UpdatedAt = now
		if err := e.Repo.UpdateProfileTask(ctx, tx, pt); err != nil {
			return domain.ProfileTask{}, err
		}
	}
	if err := e.events().Append(ctx, tx, events.TaskDiscarded, "profile_task", pt.ID, actorID, payload); err != nil {
		return domain.ProfileTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProfileTask{}, err
	}
	return pt, nil
}

// ApplyOptions are the caller's answers to the task questions and an
// optional counter-offer.
type ApplyOptions struct {
	ActorID string
	TaskID  string
	Answers []string
	Quote   *int
}

func (e Engine) Apply(ctx context.Context, opts ApplyOptions) (pt domain.ProfileTask, err error) {
	const op = "apply"
	ctx, done := e.trace(ctx, op, attribute.String("task.id", opts.TaskID))
	defer done(&err)

	if err := e.requireActor(op, opts.ActorID); err != nil {
		return pt, err
	}
	if opts.Quote != nil && *opts.Quote < 0 {
		return pt, opErr(op, ErrInvalidInput, "quote must not be negative")
	}
	if len(opts.Answers) > 3 {
		return pt, opErr(op, ErrInvalidInput, "at most three answers allowed")
	}
	answers := make([]string, 3)
	copy(answers, opts.Answers)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return pt, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, op, opts.TaskID)
	if err != nil {
		return pt, err
	}
	if t.OwnerID == opts.ActorID {
		return pt, opErr(op, ErrOwnTask, "profile %s owns task %s", opts.ActorID, opts.TaskID)
	}
	if _, err := e.loadProfile(ctx, tx, op, opts.ActorID); err != nil {
		return pt, err
	}
	inter, err := e.loadInteraction(ctx, tx, op, opts.ActorID, opts.TaskID)
	if err != nil {
		return pt, err
	}
	if t.Status != domain.TaskOpen {
		return pt, opErr(op, ErrNotEligible, "task %s is %s", t.ID, t.Status)
	}
	next, terr := nextProfileTaskStatus(ActApply, inter.State)
	if terr != nil {
		return pt, opErr(op, ErrNotEligible, "interaction is %s", inter.State)
	}
	now := e.stamp()
	if inter.Record != nil {
		pt = *inter.Record
	} else {
		pt = domain.ProfileTask{
			ID:        uuid.NewString(),
			TaskID:    opts.TaskID,
			ProfileID: opts.ActorID,
			CreatedAt: now,
		}
	}
	pt.Status = next
	pt.Answer1, pt.Answer2, pt.Answer3 = answers[0], answers[1], answers[2]
	pt.Quote = opts.Quote
	pt.AppliedAt = &now
	pt.UpdatedAt = now
	if inter.Record != nil {
		err = e.Repo.UpdateProfileTask(ctx, tx, pt)
	} else {
		err = e.insertInteraction(ctx, tx, op, pt)
	}
	if err != nil {
		return domain.ProfileTask{}, err
	}
	payload := events.EventPayload{"task_id": opts.TaskID}
	if pt.Quote != nil {
		payload["quote"] = *pt.Quote
	}
	if err := e.events().Append(ctx, tx, events.ApplicationSubmitted, "profile_task", pt.ID, opts.ActorID, payload); err != nil {
		return domain.ProfileTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProfileTask{}, err
	}
	return pt, nil
}

// RejectApplication lets the task owner turn down an application.
func (e Engine) RejectApplication(ctx context.Context, actorID, profileTaskID string) (pt domain.ProfileTask, err error) {
	const op = "reject_application"
	ctx, done := e.trace(ctx, op, attribute.String("profile_task.id", profileTaskID))
	defer done(&err)
	return e.reviewApplication(ctx, op, ActRejectApplication, events.ApplicationRejected, actorID, profileTaskID)
}

// ShortlistApplication marks an application as a leading candidate and bumps
// the applicant's shortlist count.
func (e Engine) ShortlistApplication(ctx context.Context, actorID, profileTaskID string) (pt domain.ProfileTask, err error) {
	const op = "shortlist_application"
	ctx, done := e.trace(ctx, op, attribute.String("profile_task.id", profileTaskID))
	defer done(&err)
	return e.reviewApplication(ctx, op, ActShortlistApplication, events.ApplicationShortlisted, actorID, profileTaskID)
}

func (e Engine) reviewApplication(ctx context.Context, op string, act Action, evtType, actorID, profileTaskID string) (domain.ProfileTask, error) {
	if err := e.requireActor(op, actorID); err != nil {
		return domain.ProfileTask{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProfileTask{}, err
	}
	defer tx.Rollback()

	pt, err := e.Repo.GetProfileTask(ctx, tx, profileTaskID)
	if err != nil {
		return domain.ProfileTask{}, notFound(op, "profile task", profileTaskID, err)
	}
	t, err := e.loadTask(ctx, tx, op, pt.TaskID)
	if err != nil {
		return domain.ProfileTask{}, err
	}
	if t.OwnerID != actorID {
		return domain.ProfileTask{}, opErr(op, ErrNotOwner, "task %s", t.ID)
	}
	if t.Status != domain.TaskOpen {
		return domain.ProfileTask{}, opErr(op, ErrNotEligible, "task %s is %s", t.ID, t.Status)
	}
	next, terr := nextProfileTaskStatus(act, pt.Status)
	if terr != nil {
		return domain.ProfileTask{}, opErr(op, ErrNotEligible, "application is %s", pt.Status)
	}
	now := e.stamp()
	prev := pt.Status
	pt.Status = next
	pt.UpdatedAt = now
	if err := e.Repo.UpdateProfileTask(ctx, tx, pt); err != nil {
		return domain.ProfileTask{}, err
	}
	if act == ActShortlistApplication {
		if err := e.Repo.IncrementShortlistCount(ctx, tx, pt.ProfileID, now); err != nil {
			return domain.ProfileTask{}, notFound(op, "profile", pt.ProfileID, err)
		}
	}
	payload := events.EventPayload{"task_id": t.ID, "profile_id": pt.ProfileID, "from": string(prev)}
	if err := e.events().Append(ctx, tx, evtType, "profile_task", pt.ID, actorID, payload); err != nil {
		return domain.ProfileTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProfileTask{}, err
	}
	return pt, nil
}

// Assignment is the result of accepting an applicant: the task now in
// progress and the applicant's assigned interaction.
type Assignment struct {
	Task        domain.Task        `json:"task"`
	ProfileTask domain.ProfileTask `json:"profile_task"`
}

// AcceptApplicant assigns applicantID as the helper of taskID. The task and
// the interaction are written in one transaction.
func (e Engine) AcceptApplicant(ctx context.Context, actorID, taskID, applicantID string) (res Assignment, err error) {
	const op = "accept_applicant"
	ctx, done := e.trace(ctx, op, attribute.String("task.id", taskID), attribute.String("applicant.id", applicantID))
	defer done(&err)

	if err := e.requireActor(op, actorID); err != nil {
		return res, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, op, taskID)
	if err != nil {
		return res, err
	}
	if t.OwnerID != actorID {
		return res, opErr(op, ErrNotOwner, "task %s", taskID)
	}
	if t.Status != domain.TaskOpen || t.HelperID != nil {
		return res, opErr(op, ErrTaskNotEligible, "task %s is %s", taskID, t.Status)
	}
	if applicantID == t.OwnerID {
		return res, opErr(op, ErrOwnTask, "owner cannot be assigned task %s", taskID)
	}
	inter, err := e.loadInteraction(ctx, tx, op, applicantID, taskID)
	if err != nil {
		return res, err
	}
	next, terr := nextProfileTaskStatus(ActAccept, inter.State)
	if terr != nil {
		return res, opErr(op, ErrApplicantNotEligible, "profile %s interaction is %s", applicantID, inter.State)
	}
	if err := ensureTaskTransition(t.Status, domain.TaskInProgress); err != nil {
		return res, opErr(op, ErrTaskNotEligible, "%v", err)
	}
	now := e.stamp()
	ok, err := e.Repo.AssignHelper(ctx, tx, taskID, applicantID, now)
	if err != nil {
		return res, err
	}
	if !ok {
		return res, opErr(op, ErrTaskNotEligible, "task %s was assigned concurrently", taskID)
	}
	pt := *inter.Record
	pt.Status = next
	pt.UpdatedAt = now
	if err := e.Repo.UpdateProfileTask(ctx, tx, pt); err != nil {
		return res, err
	}
	if err := e.events().Append(ctx, tx, events.ApplicantAccepted, "task", taskID, actorID, events.EventPayload{"helper_id": applicantID, "profile_task_id": pt.ID}); err != nil {
		return res, err
	}
	t.Status = domain.TaskInProgress
	t.HelperID = &applicantID
	t.UpdatedAt = now
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return Assignment{Task: t, ProfileTask: pt}, nil
}

// Complete closes an in-progress task and credits the helper.
func (e Engine) Complete(ctx context.Context, actorID, taskID string) (t domain.Task, err error) {
	const op = "complete"
	ctx, done := e.trace(ctx, op, attribute.String("task.id", taskID))
	defer done(&err)

	if err := e.requireActor(op, actorID); err != nil {
		return t, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	t, err = e.loadTask(ctx, tx, op, taskID)
	if err != nil {
		return t, err
	}
	if t.OwnerID != actorID {
		return domain.Task{}, opErr(op, ErrNotOwner, "task %s", taskID)
	}
	if err := ensureTaskTransition(t.Status, domain.TaskComplete); err != nil {
		return domain.Task{}, opErr(op, ErrNotEligible, "%v", err)
	}
	now := e.stamp()
	ok, err := e.Repo.UpdateTaskStatus(ctx, tx, taskID, t.Status, domain.TaskComplete, now)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, opErr(op, ErrNotEligible, "task %s changed concurrently", taskID)
	}
	payload := events.EventPayload{}
	if t.HelperID != nil {
		if err := e.Repo.IncrementTasksCompleted(ctx, tx, *t.HelperID, now); err != nil {
			return domain.Task{}, notFound(op, "profile", *t.HelperID, err)
		}
		payload["helper_id"] = *t.HelperID
	}
	if err := e.events().Append(ctx, tx, events.TaskCompleted, "task", taskID, actorID, payload); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.TaskComplete
	t.UpdatedAt = now
	return t, nil
}

// DeleteTask removes a task and every interaction with it. Only the owner
// may delete.
func (e Engine) DeleteTask(ctx context.Context, actorID, taskID string) (err error) {
	const op = "delete_task"
	ctx, done := e.trace(ctx, op, attribute.String("task.id", taskID))
	defer done(&err)

	if err := e.requireActor(op, actorID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, op, taskID)
	if err != nil {
		return err
	}
	if t.OwnerID != actorID {
		return opErr(op, ErrNotOwner, "task %s", taskID)
	}
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return notFound(op, "task", taskID, err)
	}
	if err := e.events().Append(ctx, tx, events.TaskDeleted, "task", taskID, actorID, events.EventPayload{"title": t.Title, "status": string(t.Status)}); err != nil {
		return err
	}
	return tx.Commit()
}

// HelperRating is the result of rating a helper: the rated interaction and
// the helper's recomputed profile.
type HelperRating struct {
	ProfileTask domain.ProfileTask `json:"profile_task"`
	Profile     domain.Profile     `json:"profile"`
}

// RateHelper stores the owner's rating of the assigned helper and recomputes
// the helper's rating as the mean of every rating the helper has received.
func (e Engine) RateHelper(ctx context.Context, actorID, taskID, applicantID string, rating int) (res HelperRating, err error) {
	const op = "rate_helper"
	ctx, done := e.trace(ctx, op, attribute.String("task.id", taskID), attribute.Int("rating", rating))
	defer done(&err)

	if err := e.requireActor(op, actorID); err != nil {
		return res, err
	}
	if rating < 0 || rating > 5 {
		return res, opErr(op, ErrInvalidRating, "rating %d outside 0..5", rating)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, op, taskID)
	if err != nil {
		return res, err
	}
	if t.OwnerID != actorID {
		return res, opErr(op, ErrNotOwner, "task %s", taskID)
	}
	if t.Status != domain.TaskComplete {
		return res, opErr(op, ErrNotEligible, "task %s is %s", taskID, t.Status)
	}
	if t.HelperID == nil || *t.HelperID != applicantID {
		return res, opErr(op, ErrNotEligible, "profile %s is not the helper of task %s", applicantID, taskID)
	}
	inter, err := e.loadInteraction(ctx, tx, op, applicantID, taskID)
	if err != nil {
		return res, err
	}
	if inter.State != domain.Assigned {
		return res, opErr(op, ErrNotEligible, "interaction is %s", inter.State)
	}
	now := e.stamp()
	pt := *inter.Record
	pt.Rating = &rating
	pt.UpdatedAt = now
	if err := e.Repo.UpdateProfileTask(ctx, tx, pt); err != nil {
		return res, err
	}
	avg, ok, err := e.Repo.AverageRating(ctx, tx, applicantID)
	if err != nil {
		return res, err
	}
	mean := 0.0
	if ok {
		mean = round2(avg)
	}
	if err := e.Repo.SetProfileRating(ctx, tx, applicantID, mean, now); err != nil {
		return res, notFound(op, "profile", applicantID, err)
	}
	profile, err := e.loadProfile(ctx, tx, op, applicantID)
	if err != nil {
		return res, err
	}
	if err := e.events().Append(ctx, tx, events.HelperRated, "profile_task", pt.ID, actorID, events.EventPayload{"task_id": taskID, "rating": rating, "profile_rating": mean}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return HelperRating{ProfileTask: pt, Profile: profile}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

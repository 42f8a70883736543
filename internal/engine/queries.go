package engine

import (
	"context"

	"taskmarket/internal/domain"
	"taskmarket/internal/repo"
)

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.loadTask(ctx, nil, "get_task", id)
}

func (e Engine) GetProfileTask(ctx context.Context, id string) (domain.ProfileTask, error) {
	pt, err := e.Repo.GetProfileTask(ctx, nil, id)
	if err != nil {
		return pt, notFound("get_profile_task", "profile task", id, err)
	}
	return pt, nil
}

// Interaction reports how profileID has interacted with taskID so far.
func (e Engine) Interaction(ctx context.Context, profileID, taskID string) (domain.Interaction, error) {
	return e.loadInteraction(ctx, nil, "interaction", profileID, taskID)
}

// PosterTasks lists the tasks a profile owns, optionally by status.
func (e Engine) PosterTasks(ctx context.Context, profileID string, status domain.TaskStatus) ([]domain.Task, error) {
	if status != "" && !status.Valid() {
		return nil, opErr("poster_tasks", ErrInvalidInput, "unknown task status %s", status)
	}
	return e.Repo.ListTasks(ctx, repo.TaskFilters{OwnerID: profileID, Status: status})
}

// HelperTasks lists a profile's interactions, optionally by status.
func (e Engine) HelperTasks(ctx context.Context, profileID string, status domain.ProfileTaskStatus) ([]domain.ProfileTask, error) {
	if status != "" && !status.Persisted() {
		return nil, opErr("helper_tasks", ErrInvalidInput, "unknown profile task status %s", status)
	}
	return e.Repo.ListProfileTasks(ctx, repo.ProfileTaskFilters{ProfileID: profileID, Status: status})
}

// Applicants lists a task's interactions for its owner, best rated
// applicant first.
func (e Engine) Applicants(ctx context.Context, actorID, taskID string, status domain.ProfileTaskStatus) ([]domain.Applicant, error) {
	const op = "applicants"
	if err := e.requireActor(op, actorID); err != nil {
		return nil, err
	}
	if status != "" && !status.Persisted() {
		return nil, opErr(op, ErrInvalidInput, "unknown profile task status %s", status)
	}
	t, err := e.loadTask(ctx, nil, op, taskID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != actorID {
		return nil, opErr(op, ErrNotOwner, "task %s", taskID)
	}
	return e.Repo.ListApplicants(ctx, taskID, status)
}

// CompletedTasks lists the interactions where the profile was the assigned
// helper of a task that is now complete.
func (e Engine) CompletedTasks(ctx context.Context, profileID string) ([]domain.ProfileTask, error) {
	if _, err := e.loadProfile(ctx, nil, "completed_tasks", profileID); err != nil {
		return nil, err
	}
	return e.Repo.ListProfileTasks(ctx, repo.ProfileTaskFilters{ProfileID: profileID, Status: domain.Assigned, TaskStatus: domain.TaskComplete})
}

// ListEvents lists events newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}

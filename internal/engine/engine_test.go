package engine_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"taskmarket/internal/config"
	"taskmarket/internal/db"
	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
	"taskmarket/internal/migrate"
	"taskmarket/internal/repo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *clock
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	clk := &clock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	eng.Now = clk.Now
	ctx := context.Background()
	if _, err := eng.SeedSkills(ctx, cfg.Skills); err != nil {
		t.Fatalf("seed skills: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: clk}
}

func (env testEnv) profile(t *testing.T, username, location string, skillCodes ...string) domain.Profile {
	t.Helper()
	p, err := env.Engine.CreateProfile(env.Ctx, engine.ProfileCreateOptions{
		Username:  username,
		FirstName: username,
		LastName:  "Tester",
		Location:  location,
	})
	if err != nil {
		t.Fatalf("create profile %s: %v", username, err)
	}
	if len(skillCodes) > 0 {
		var ids []string
		for _, code := range skillCodes {
			s, err := env.Engine.Repo.GetSkillByCode(env.Ctx, code)
			if err != nil {
				t.Fatalf("skill %s: %v", code, err)
			}
			ids = append(ids, s.ID)
		}
		if p, err = env.Engine.UpdateSkills(env.Ctx, p.ID, ids); err != nil {
			t.Fatalf("update skills: %v", err)
		}
	}
	return p
}

func (env testEnv) task(t *testing.T, owner domain.Profile, title, location string, skillCodes ...string) domain.Task {
	t.Helper()
	env.Clock.Advance(time.Second)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ActorID:     owner.ID,
		Title:       title,
		Description: "help wanted: " + title,
		Points:      10,
		Location:    location,
		Questions:   []string{"When can you start?"},
		SkillCodes:  skillCodes,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env testEnv) apply(t *testing.T, helper domain.Profile, task domain.Task) domain.ProfileTask {
	t.Helper()
	pt, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ActorID: helper.ID, TaskID: task.ID, Answers: []string{"tomorrow"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	return pt
}

func expectKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

func (env testEnv) interactions(t *testing.T, profileID, taskID string) []domain.ProfileTask {
	t.Helper()
	rows, err := env.Engine.Repo.FindProfileTasks(env.Ctx, nil, profileID, taskID)
	if err != nil {
		t.Fatalf("find profile tasks: %v", err)
	}
	return rows
}

func TestShortlistThenDuplicate(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	task := env.task(t, owner, "Mow lawn", "Sydney", "gardening")

	pt, err := env.Engine.Shortlist(env.Ctx, helper.ID, task.ID)
	if err != nil {
		t.Fatalf("shortlist: %v", err)
	}
	if pt.Status != domain.Shortlisted {
		t.Fatalf("status %s", pt.Status)
	}
	_, err = env.Engine.Shortlist(env.Ctx, helper.ID, task.ID)
	expectKind(t, err, engine.ErrDuplicateInteraction)

	// shortlisting never applies after any other interaction either
	other := env.profile(t, "other", "Perth")
	if _, err := env.Engine.Discard(env.Ctx, other.ID, task.ID); err != nil {
		t.Fatalf("discard: %v", err)
	}
	_, err = env.Engine.Shortlist(env.Ctx, other.ID, task.ID)
	expectKind(t, err, engine.ErrDuplicateInteraction)
	if n := len(env.interactions(t, helper.ID, task.ID)); n != 1 {
		t.Fatalf("expected one row, got %d", n)
	}
}

func TestApplyAfterShortlist(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	task := env.task(t, owner, "Clean gutters", "Sydney")

	shortlisted, err := env.Engine.Shortlist(env.Ctx, helper.ID, task.ID)
	if err != nil {
		t.Fatalf("shortlist: %v", err)
	}
	env.Clock.Advance(time.Minute)
	quote := 25
	pt, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ActorID: helper.ID, TaskID: task.ID, Answers: []string{"now"}, Quote: &quote})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if pt.ID != shortlisted.ID {
		t.Fatalf("apply created a second row")
	}
	if pt.Status != domain.Applied || pt.AppliedAt == nil || *pt.AppliedAt != domain.FormatTime(env.Clock.Now()) {
		t.Fatalf("unexpected application %+v", pt)
	}
	if pt.Quote == nil || *pt.Quote != 25 || pt.Answer1 != "now" {
		t.Fatalf("answers not stored: %+v", pt)
	}
	_, err = env.Engine.Apply(env.Ctx, engine.ApplyOptions{ActorID: helper.ID, TaskID: task.ID})
	expectKind(t, err, engine.ErrNotEligible)

	stored, err := env.Engine.GetProfileTask(env.Ctx, pt.ID)
	if err != nil {
		t.Fatalf("get profile task: %v", err)
	}
	if stored.Status != domain.Applied || stored.Quote == nil || *stored.Quote != 25 {
		t.Fatalf("stored %+v", stored)
	}
}

func TestApplyWithoutShortlistAndValidation(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	task := env.task(t, owner, "Move couch", "Sydney")

	neg := -1
	_, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ActorID: helper.ID, TaskID: task.ID, Quote: &neg})
	expectKind(t, err, engine.ErrInvalidInput)

	_, err = env.Engine.Apply(env.Ctx, engine.ApplyOptions{ActorID: owner.ID, TaskID: task.ID})
	expectKind(t, err, engine.ErrOwnTask)

	_, err = env.Engine.Apply(env.Ctx, engine.ApplyOptions{ActorID: helper.ID, TaskID: "missing"})
	expectKind(t, err, engine.ErrNotFound)

	pt := env.apply(t, helper, task)
	if pt.Status != domain.Applied || pt.AppliedAt == nil {
		t.Fatalf("direct apply %+v", pt)
	}
}

func TestOwnerCannotInteractWithOwnTask(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	task := env.task(t, owner, "Fix tap", "Sydney")

	_, err := env.Engine.Shortlist(env.Ctx, owner.ID, task.ID)
	expectKind(t, err, engine.ErrOwnTask)
	_, err = env.Engine.Apply(env.Ctx, engine.ApplyOptions{ActorID: owner.ID, TaskID: task.ID})
	expectKind(t, err, engine.ErrOwnTask)
	_, err = env.Engine.AcceptApplicant(env.Ctx, owner.ID, task.ID, owner.ID)
	expectKind(t, err, engine.ErrOwnTask)
	if n := len(env.interactions(t, owner.ID, task.ID)); n != 0 {
		t.Fatalf("owner has %d rows", n)
	}
}

func TestShortlistApplicationIncrementsCount(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	task := env.task(t, owner, "Paint fence", "Sydney")
	pt := env.apply(t, helper, task)

	_, err := env.Engine.ShortlistApplication(env.Ctx, helper.ID, pt.ID)
	expectKind(t, err, engine.ErrNotOwner)

	got, err := env.Engine.ShortlistApplication(env.Ctx, owner.ID, pt.ID)
	if err != nil {
		t.Fatalf("shortlist application: %v", err)
	}
	if got.Status != domain.ApplicationShortlisted {
		t.Fatalf("status %s", got.Status)
	}
	p, err := env.Engine.GetProfile(env.Ctx, helper.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.ShortlistCount != helper.ShortlistCount+1 {
		t.Fatalf("shortlist count %d", p.ShortlistCount)
	}
	_, err = env.Engine.ShortlistApplication(env.Ctx, owner.ID, pt.ID)
	expectKind(t, err, engine.ErrNotEligible)
	p, _ = env.Engine.GetProfile(env.Ctx, helper.ID)
	if p.ShortlistCount != 1 {
		t.Fatalf("failed shortlist changed count to %d", p.ShortlistCount)
	}
}

func TestRejectApplication(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	task := env.task(t, owner, "Walk dog", "Sydney")

	shortlisted, err := env.Engine.Shortlist(env.Ctx, helper.ID, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.RejectApplication(env.Ctx, owner.ID, shortlisted.ID)
	expectKind(t, err, engine.ErrNotEligible)

	pt := env.apply(t, helper, task)
	if _, err := env.Engine.ShortlistApplication(env.Ctx, owner.ID, pt.ID); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.RejectApplication(env.Ctx, helper.ID, pt.ID)
	expectKind(t, err, engine.ErrNotOwner)

	got, err := env.Engine.RejectApplication(env.Ctx, owner.ID, pt.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != domain.Rejected {
		t.Fatalf("status %s", got.Status)
	}
	_, err = env.Engine.RejectApplication(env.Ctx, owner.ID, pt.ID)
	expectKind(t, err, engine.ErrNotEligible)
	_, err = env.Engine.RejectApplication(env.Ctx, owner.ID, "missing")
	expectKind(t, err, engine.ErrNotFound)
}

func TestAcceptApplicant(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	rival := env.profile(t, "rival", "Sydney")
	task := env.task(t, owner, "Assemble desk", "Sydney")
	pt := env.apply(t, helper, task)
	env.apply(t, rival, task)

	_, err := env.Engine.AcceptApplicant(env.Ctx, helper.ID, task.ID, helper.ID)
	expectKind(t, err, engine.ErrNotOwner)

	res, err := env.Engine.AcceptApplicant(env.Ctx, owner.ID, task.ID, helper.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Task.Status != domain.TaskInProgress || res.Task.HelperID == nil || *res.Task.HelperID != helper.ID {
		t.Fatalf("task %+v", res.Task)
	}
	if res.ProfileTask.ID != pt.ID || res.ProfileTask.Status != domain.Assigned {
		t.Fatalf("profile task %+v", res.ProfileTask)
	}
	stored, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.TaskInProgress || stored.HelperID == nil || *stored.HelperID != helper.ID {
		t.Fatalf("stored task %+v", stored)
	}
	storedPT, _ := env.Engine.GetProfileTask(env.Ctx, pt.ID)
	if storedPT.Status != domain.Assigned {
		t.Fatalf("stored profile task %s", storedPT.Status)
	}

	_, err = env.Engine.AcceptApplicant(env.Ctx, owner.ID, task.ID, rival.ID)
	expectKind(t, err, engine.ErrTaskNotEligible)
}

func TestAcceptRequiresApplication(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	task := env.task(t, owner, "Hang shelves", "Sydney")

	_, err := env.Engine.AcceptApplicant(env.Ctx, owner.ID, task.ID, helper.ID)
	expectKind(t, err, engine.ErrApplicantNotEligible)

	if _, err := env.Engine.Shortlist(env.Ctx, helper.ID, task.ID); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AcceptApplicant(env.Ctx, owner.ID, task.ID, helper.ID)
	expectKind(t, err, engine.ErrApplicantNotEligible)

	stored, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if stored.Status != domain.TaskOpen || stored.HelperID != nil {
		t.Fatalf("failed accept changed task: %+v", stored)
	}
}

func TestConcurrentAcceptAssignsOneHelper(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	a := env.profile(t, "alice", "Sydney")
	b := env.profile(t, "bob", "Sydney")
	task := env.task(t, owner, "Tile bathroom", "Sydney")
	env.apply(t, a, task)
	env.apply(t, b, task)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, helper := range []domain.Profile{a, b} {
		wg.Add(1)
		go func(i int, helperID string) {
			defer wg.Done()
			_, errs[i] = env.Engine.AcceptApplicant(env.Ctx, owner.ID, task.ID, helperID)
		}(i, helper.ID)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		expectKind(t, err, engine.ErrTaskNotEligible)
	}
	if ok != 1 {
		t.Fatalf("expected one accept to win, got %d (%v)", ok, errs)
	}
	assigned, err := env.Engine.Repo.ListProfileTasks(env.Ctx, repo.ProfileTaskFilters{TaskID: task.ID, Status: domain.Assigned})
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if len(assigned) != 1 || stored.HelperID == nil || *stored.HelperID != assigned[0].ProfileID {
		t.Fatalf("helper %v, assigned rows %+v", stored.HelperID, assigned)
	}
}

func TestConcurrentShortlistKeepsOneRow(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	task := env.task(t, owner, "Water plants", "Sydney")

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.Shortlist(env.Ctx, helper.ID, task.ID)
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		expectKind(t, err, engine.ErrDuplicateInteraction)
	}
	if ok != 1 {
		t.Fatalf("expected exactly one shortlist, got %d", ok)
	}
	if rows := env.interactions(t, helper.ID, task.ID); len(rows) != 1 {
		t.Fatalf("rows %d", len(rows))
	}
}

func TestCompleteAndRateHelper(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")

	ratings := []int{5, 3}
	var last engine.HelperRating
	for i, rating := range ratings {
		task := env.task(t, owner, "Job", "Sydney")
		env.apply(t, helper, task)

		_, err := env.Engine.Complete(env.Ctx, owner.ID, task.ID)
		expectKind(t, err, engine.ErrNotEligible)
		_, err = env.Engine.RateHelper(env.Ctx, owner.ID, task.ID, helper.ID, rating)
		expectKind(t, err, engine.ErrNotEligible)

		if _, err := env.Engine.AcceptApplicant(env.Ctx, owner.ID, task.ID, helper.ID); err != nil {
			t.Fatalf("accept: %v", err)
		}
		_, err = env.Engine.Complete(env.Ctx, helper.ID, task.ID)
		expectKind(t, err, engine.ErrNotOwner)

		done, err := env.Engine.Complete(env.Ctx, owner.ID, task.ID)
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if done.Status != domain.TaskComplete {
			t.Fatalf("status %s", done.Status)
		}
		p, _ := env.Engine.GetProfile(env.Ctx, helper.ID)
		if p.TasksCompleted != i+1 {
			t.Fatalf("tasks completed %d", p.TasksCompleted)
		}
		_, err = env.Engine.Complete(env.Ctx, owner.ID, task.ID)
		expectKind(t, err, engine.ErrNotEligible)

		last, err = env.Engine.RateHelper(env.Ctx, owner.ID, task.ID, helper.ID, rating)
		if err != nil {
			t.Fatalf("rate: %v", err)
		}
		if last.ProfileTask.Rating == nil || *last.ProfileTask.Rating != rating {
			t.Fatalf("rating not stored: %+v", last.ProfileTask)
		}
	}
	if last.Profile.Rating != 4.00 {
		t.Fatalf("rating %.2f want 4.00", last.Profile.Rating)
	}
	completed, err := env.Engine.CompletedTasks(env.Ctx, helper.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 2 {
		t.Fatalf("completed tasks %d", len(completed))
	}
}

func TestRateHelperValidation(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	other := env.profile(t, "other", "Sydney")
	task := env.task(t, owner, "Job", "Sydney")
	env.apply(t, helper, task)
	env.apply(t, other, task)
	if _, err := env.Engine.AcceptApplicant(env.Ctx, owner.ID, task.ID, helper.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Complete(env.Ctx, owner.ID, task.ID); err != nil {
		t.Fatal(err)
	}
	for _, bad := range []int{-1, 6} {
		_, err := env.Engine.RateHelper(env.Ctx, owner.ID, task.ID, helper.ID, bad)
		expectKind(t, err, engine.ErrInvalidRating)
	}
	_, err := env.Engine.RateHelper(env.Ctx, helper.ID, task.ID, helper.ID, 4)
	expectKind(t, err, engine.ErrNotOwner)
	_, err = env.Engine.RateHelper(env.Ctx, owner.ID, task.ID, other.ID, 4)
	expectKind(t, err, engine.ErrNotEligible)

	res, err := env.Engine.RateHelper(env.Ctx, owner.ID, task.ID, helper.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Profile.Rating != 2 {
		t.Fatalf("rating %.2f", res.Profile.Rating)
	}
}

func TestDiscardTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	task := env.task(t, owner, "Rake leaves", "Sydney")

	pt, err := env.Engine.Discard(env.Ctx, helper.ID, task.ID)
	if err != nil {
		t.Fatalf("discard: %v", err)
	}
	if pt.Status != domain.Discarded {
		t.Fatalf("status %s", pt.Status)
	}
	_, err = env.Engine.Discard(env.Ctx, helper.ID, task.ID)
	expectKind(t, err, engine.ErrAlreadyDiscarded)
}

func TestDiscardOverwritesApplication(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	task := env.task(t, owner, "Babysit", "Sydney")
	applied := env.apply(t, helper, task)

	pt, err := env.Engine.Discard(env.Ctx, helper.ID, task.ID)
	if err != nil {
		t.Fatalf("discard: %v", err)
	}
	if pt.ID != applied.ID || pt.Status != domain.Discarded {
		t.Fatalf("expected in-place overwrite, got %+v", pt)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{Type: "task.discarded"})
	if err != nil || len(evts) != 1 {
		t.Fatalf("events %v %v", evts, err)
	}
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	task := env.task(t, owner, "Sort garage", "Sydney", "moving")
	pt := env.apply(t, helper, task)

	err := env.Engine.DeleteTask(env.Ctx, helper.ID, task.ID)
	expectKind(t, err, engine.ErrNotOwner)
	if _, err := env.Engine.GetTask(env.Ctx, task.ID); err != nil {
		t.Fatalf("task deleted by non-owner: %v", err)
	}

	if err := env.Engine.DeleteTask(env.Ctx, owner.ID, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = env.Engine.GetTask(env.Ctx, task.ID)
	expectKind(t, err, engine.ErrNotFound)
	_, err = env.Engine.GetProfileTask(env.Ctx, pt.ID)
	expectKind(t, err, engine.ErrNotFound)
	err = env.Engine.DeleteTask(env.Ctx, owner.ID, task.ID)
	expectKind(t, err, engine.ErrNotFound)
}

func TestTaskStatusNeverMovesBackward(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	task := env.task(t, owner, "Job", "Sydney")
	pt := env.apply(t, helper, task)
	if _, err := env.Engine.AcceptApplicant(env.Ctx, owner.ID, task.ID, helper.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Complete(env.Ctx, owner.ID, task.ID); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.AcceptApplicant(env.Ctx, owner.ID, task.ID, helper.ID)
	expectKind(t, err, engine.ErrTaskNotEligible)
	_, err = env.Engine.RejectApplication(env.Ctx, owner.ID, pt.ID)
	expectKind(t, err, engine.ErrNotEligible)
	late := env.profile(t, "late", "Sydney")
	_, err = env.Engine.Apply(env.Ctx, engine.ApplyOptions{ActorID: late.ID, TaskID: task.ID})
	expectKind(t, err, engine.ErrNotEligible)
	stored, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if stored.Status != domain.TaskComplete {
		t.Fatalf("status %s", stored.Status)
	}
}

func TestApplicantsOwnerOnlyAndOrdered(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	low := env.profile(t, "low", "Sydney")
	high := env.profile(t, "high", "Sydney")
	task := env.task(t, owner, "Job", "Sydney")
	env.apply(t, low, task)
	env.apply(t, high, task)
	if err := env.Engine.Repo.SetProfileRating(env.Ctx, nil, high.ID, 4.5, domain.FormatTime(env.Clock.Now())); err != nil {
		t.Fatal(err)
	}

	_, err := env.Engine.Applicants(env.Ctx, low.ID, task.ID, "")
	expectKind(t, err, engine.ErrNotOwner)

	list, err := env.Engine.Applicants(env.Ctx, owner.ID, task.ID, domain.Applied)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ProfileID != high.ID || list[0].Username != "high" {
		t.Fatalf("applicants %+v", list)
	}
	_, err = env.Engine.Applicants(env.Ctx, owner.ID, task.ID, domain.NoInteraction)
	expectKind(t, err, engine.ErrInvalidInput)
}

func TestPosterAndHelperTasks(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	t1 := env.task(t, owner, "One", "Sydney")
	t2 := env.task(t, owner, "Two", "Sydney")
	env.apply(t, helper, t1)
	if _, err := env.Engine.Shortlist(env.Ctx, helper.ID, t2.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AcceptApplicant(env.Ctx, owner.ID, t1.ID, helper.ID); err != nil {
		t.Fatal(err)
	}

	open, err := env.Engine.PosterTasks(env.Ctx, owner.ID, domain.TaskOpen)
	if err != nil || len(open) != 1 || open[0].ID != t2.ID {
		t.Fatalf("open poster tasks %+v %v", open, err)
	}
	all, _ := env.Engine.PosterTasks(env.Ctx, owner.ID, "")
	if len(all) != 2 {
		t.Fatalf("poster tasks %d", len(all))
	}
	shortlisted, err := env.Engine.HelperTasks(env.Ctx, helper.ID, domain.Shortlisted)
	if err != nil || len(shortlisted) != 1 || shortlisted[0].TaskID != t2.ID {
		t.Fatalf("helper tasks %+v %v", shortlisted, err)
	}
	_, err = env.Engine.PosterTasks(env.Ctx, owner.ID, "DONE")
	expectKind(t, err, engine.ErrInvalidInput)
}

func TestUpdateSkillsValidatesBeforeReplacing(t *testing.T) {
	env := newTestEnv(t)
	p := env.profile(t, "helper", "Sydney", "gardening", "cleaning")

	_, err := env.Engine.UpdateSkills(env.Ctx, p.ID, []string{p.Skills[0].ID, "no-such-skill"})
	expectKind(t, err, engine.ErrNotFound)
	unchanged, _ := env.Engine.GetProfile(env.Ctx, p.ID)
	if len(unchanged.Skills) != 2 {
		t.Fatalf("skills changed after failed update: %+v", unchanged.Skills)
	}

	moving, _ := env.Engine.Repo.GetSkillByCode(env.Ctx, "moving")
	updated, err := env.Engine.UpdateSkills(env.Ctx, p.ID, []string{moving.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Skills) != 1 || updated.Skills[0].Code != "moving" {
		t.Fatalf("skills %+v", updated.Skills)
	}
}

func TestUpdateProfileSelfOnly(t *testing.T) {
	env := newTestEnv(t)
	a := env.profile(t, "alice", "Sydney")
	b := env.profile(t, "bob", "Perth")
	loc := "Melbourne"
	_, err := env.Engine.UpdateProfile(env.Ctx, b.ID, a.ID, engine.ProfileUpdate{Location: &loc})
	expectKind(t, err, engine.ErrNotOwner)
	p, err := env.Engine.UpdateProfile(env.Ctx, a.ID, a.ID, engine.ProfileUpdate{Location: &loc})
	if err != nil {
		t.Fatal(err)
	}
	if p.Location != "Melbourne" {
		t.Fatalf("location %s", p.Location)
	}
	_, err = env.Engine.CreateProfile(env.Ctx, engine.ProfileCreateOptions{Username: "alice"})
	expectKind(t, err, engine.ErrConflict)
}

func TestEventsRecordedInOrder(t *testing.T) {
	env := newTestEnv(t)
	owner := env.profile(t, "owner", "Sydney")
	helper := env.profile(t, "helper", "Sydney")
	task := env.task(t, owner, "Job", "Sydney")
	env.apply(t, helper, task)
	if _, err := env.Engine.AcceptApplicant(env.Ctx, owner.ID, task.ID, helper.ID); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{EntityKind: "task", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 || evts[0].Type != "applicant.accepted" || evts[1].Type != "task.created" {
		t.Fatalf("events %+v", evts)
	}
}

type brokenCatalog struct{}

func (brokenCatalog) List(ctx context.Context, load func(context.Context) ([]domain.Skill, error)) ([]domain.Skill, error) {
	return load(ctx)
}

func (brokenCatalog) Invalidate(context.Context) error {
	return errors.New("redis: connection refused")
}

func TestSkillCacheInvalidationFailureIsLogged(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	env.Engine.Skills = brokenCatalog{}
	env.Engine.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	if _, err := env.Engine.AddSkill(env.Ctx, "", "painting", "Painting"); err != nil {
		t.Fatalf("add skill: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "skill cache invalidation failed") || !strings.Contains(out, "connection refused") {
		t.Fatalf("expected invalidation warning, got %q", out)
	}
}

package engine

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"taskmarket/internal/config"
	"taskmarket/internal/domain"
	"taskmarket/internal/repo"
	"taskmarket/internal/telemetry"
)

type SearchFilters struct {
	Query      string
	Location   string
	SkillCodes []string
	Limit      int
}

// Rank scores a task for a helper: each required skill the helper has adds
// w.SharedSkill, each one missing adds w.MissingSkill, and a location equal
// to the helper's (ignoring case) adds w.SameLocation.
func Rank(t domain.Task, helperSkills []domain.Skill, helperLocation string, w config.Ranking) int {
	have := make(map[string]bool, len(helperSkills))
	for _, s := range helperSkills {
		have[s.ID] = true
	}
	rank := 0
	for _, s := range t.Skills {
		if have[s.ID] {
			rank += w.SharedSkill
		} else {
			rank += w.MissingSkill
		}
	}
	if helperLocation != "" && strings.EqualFold(strings.TrimSpace(t.Location), strings.TrimSpace(helperLocation)) {
		rank += w.SameLocation
	}
	return rank
}

// Search lists open tasks. With a caller, tasks the caller already
// interacted with are dropped and the rest are ranked for the caller; ties
// keep most recently updated first. Without a caller the result is in
// recency order and carries no rank.
func (e Engine) Search(ctx context.Context, callerID string, f SearchFilters) (res []domain.RankedTask, err error) {
	const op = "search"
	ctx, done := e.trace(ctx, op, attribute.Bool("ranked", callerID != ""))
	defer done(&err)

	var caller domain.Profile
	if callerID != "" {
		caller, err = e.loadProfile(ctx, nil, op, callerID)
		if err != nil {
			return nil, err
		}
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
		Status:              domain.TaskOpen,
		ExcludeInteractedBy: callerID,
		Query:               f.Query,
		Location:            f.Location,
		SkillCodes:          f.SkillCodes,
	})
	if err != nil {
		return nil, err
	}
	res = make([]domain.RankedTask, len(tasks))
	for i, t := range tasks {
		res[i] = domain.RankedTask{Task: t}
		if callerID != "" {
			r := Rank(t, caller.Skills, caller.Location, e.weights())
			res[i].DisplayRank = &r
		}
	}
	if callerID != "" {
		// rows arrive newest first; a stable sort keeps that order within a rank
		sort.SliceStable(res, func(i, j int) bool {
			return *res[i].DisplayRank > *res[j].DisplayRank
		})
	}
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	telemetry.SearchResults.Observe(float64(len(res)))
	return res, nil
}

func (e Engine) weights() config.Ranking {
	if e.Config == nil {
		return config.Default().Ranking
	}
	return e.Config.Ranking
}

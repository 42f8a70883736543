package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
)

var lifecycleErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Post a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ActorID:     actorID,
			Title:       b.Title,
			Description: b.Description,
			Points:      b.Points,
			Location:    b.Location,
			IsRemote:    b.IsRemote,
			Questions:   b.Questions,
			SkillCodes:  b.Skills,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "Search open tasks, ranked for the caller when authenticated",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Query    string `query:"q" doc:"matched against title, description, location and owner name"`
		Location string `query:"location"`
		Skills   string `query:"skills" doc:"comma separated skill codes"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.RankedTask `json:"body"`
	}, error) {
		items, err := e.Search(ctx, optionalActorID(ctx), engine.SearchFilters{
			Query:      input.Query,
			Location:   input.Location,
			SkillCodes: splitCodes(input.Skills),
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.RankedTask `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskDetailResponse `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := TaskDetailResponse{Task: t}
		if actorID := optionalActorID(ctx); actorID != "" {
			in, err := e.Interaction(ctx, actorID, t.ID)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Interaction = interactionResponse(in)
		}
		return &struct {
			Body TaskDetailResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete a task and every interaction with it",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, actorID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerLifecycle(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "shortlist-task",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/shortlist",
		Summary:       "Bookmark a task",
		DefaultStatus: http.StatusCreated,
		Errors:        lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.ProfileTask `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pt, err := e.Shortlist(ctx, actorID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProfileTask `json:"body"`
		}{Body: pt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "discard-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/discard",
		Summary:     "Hide a task from the caller's search results",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.ProfileTask `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pt, err := e.Discard(ctx, actorID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProfileTask `json:"body"`
		}{Body: pt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/apply",
		Summary:     "Apply to a task",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string       `path:"task_id"`
		Body   ApplyRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.ProfileTask `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pt, err := e.Apply(ctx, engine.ApplyOptions{
			ActorID: actorID,
			TaskID:  input.TaskID,
			Answers: input.Body.Answers,
			Quote:   input.Body.Quote,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProfileTask `json:"body"`
		}{Body: pt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-applicant",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/accept",
		Summary:     "Assign an applicant as the task's helper",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string        `path:"task_id"`
		Body   AcceptRequest `json:"body"`
	}) (*struct {
		Body engine.Assignment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AcceptApplicant(ctx, actorID, input.TaskID, input.Body.ApplicantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Assignment `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Mark an in-progress task as complete",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Complete(ctx, actorID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rate-helper",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/rate",
		Summary:     "Rate the helper of a completed task",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string     `path:"task_id"`
		Body   RateRequest `json:"body"`
	}) (*struct {
		Body engine.HelperRating `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RateHelper(ctx, actorID, input.TaskID, input.Body.ApplicantID, input.Body.Rating)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.HelperRating `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applicants",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/applicants",
		Summary:     "Interactions with the caller's task, best rated first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Status string `query:"status" enum:"SHORTLISTED,APPLIED,APPLICATION_SHORTLISTED,ASSIGNED,REJECTED,DISCARDED"`
	}) (*struct {
		Body []domain.Applicant `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Applicants(ctx, actorID, input.TaskID, domain.ProfileTaskStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Applicant `json:"body"`
		}{Body: nonNil(items)}, nil
	})
}

func registerProfileTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-profile-task",
		Method:      http.MethodGet,
		Path:        "/profile-tasks/{profile_task_id}",
		Summary:     "Get an interaction; visible to its helper and the task owner",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileTaskID string `path:"profile_task_id"`
	}) (*struct {
		Body domain.ProfileTask `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pt, err := e.GetProfileTask(ctx, input.ProfileTaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if pt.ProfileID != actorID {
			t, err := e.GetTask(ctx, pt.TaskID)
			if err != nil {
				return nil, handleError(err)
			}
			if t.OwnerID != actorID {
				return nil, handleError(&engine.Error{Kind: engine.ErrNotOwner, Op: "get_profile_task", Msg: "profile task " + pt.ID})
			}
		}
		return &struct {
			Body domain.ProfileTask `json:"body"`
		}{Body: pt}, nil
	})

	review := func(id, path, summary string, fn func(context.Context, string, string) (domain.ProfileTask, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        path,
			Summary:     summary,
			Errors:      lifecycleErrors,
		}, func(ctx context.Context, input *struct {
			ProfileTaskID string `path:"profile_task_id"`
		}) (*struct {
			Body domain.ProfileTask `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			pt, err := fn(ctx, actorID, input.ProfileTaskID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.ProfileTask `json:"body"`
			}{Body: pt}, nil
		})
	}
	review("reject-application", "/profile-tasks/{profile_task_id}/reject", "Reject an application", e.RejectApplication)
	review("shortlist-application", "/profile-tasks/{profile_task_id}/shortlist", "Shortlist an application", e.ShortlistApplication)
}

func splitCodes(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if code := strings.TrimSpace(part); code != "" {
			out = append(out, code)
		}
	}
	return out
}

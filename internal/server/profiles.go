package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
	"taskmarket/internal/repo"
)

var profileErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for an existing profile",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !authCfg.DevLogin {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		id := strings.TrimSpace(input.Body.ProfileID)
		username := strings.TrimSpace(input.Body.Username)
		var p domain.Profile
		var err error
		switch {
		case id != "":
			p, err = e.GetProfile(ctx, id)
		case username != "":
			p, err = e.Repo.GetProfileByUsername(ctx, username)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "profile_id or username is required", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		token, err := signToken(authCfg.JWTSecret, p.ID, authCfg.TokenTTL, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, ProfileID: p.ID}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current profile",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProfile(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		principal, _ := principalFromContext(ctx)
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{Profile: p, Source: principal.Source}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-posted-tasks",
		Method:      http.MethodGet,
		Path:        "/me/tasks/posted",
		Summary:     "Tasks the caller posted",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"OPEN,IN_PROGRESS,COMPLETE"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.PosterTasks(ctx, actorID, domain.TaskStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-helping-tasks",
		Method:      http.MethodGet,
		Path:        "/me/tasks/helping",
		Summary:     "The caller's interactions with other profiles' tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"SHORTLISTED,APPLIED,APPLICATION_SHORTLISTED,ASSIGNED,REJECTED,DISCARDED"`
	}) (*struct {
		Body []domain.ProfileTask `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.HelperTasks(ctx, actorID, domain.ProfileTaskStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProfileTask `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-my-skills",
		Method:      http.MethodPut,
		Path:        "/me/skills",
		Summary:     "Replace the caller's skills",
		Errors:      profileErrors,
	}, func(ctx context.Context, input *struct {
		Body UpdateSkillsRequest `json:"body"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateSkills(ctx, actorID, input.Body.SkillIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-profile",
		Method:        http.MethodPost,
		Path:          "/profiles",
		Summary:       "Sign up: create an account and its profile",
		DefaultStatus: http.StatusCreated,
		Errors:        profileErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProfileRequest `json:"body"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		b := input.Body
		p, err := e.CreateProfile(ctx, engine.ProfileCreateOptions{
			Username:    b.Username,
			Email:       b.Email,
			FirstName:   b.FirstName,
			LastName:    b.LastName,
			Location:    b.Location,
			Description: b.Description,
			Photo:       b.Photo,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/profiles",
		Summary:     "List profiles",
	}, func(ctx context.Context, input *struct {
		Location string `query:"location"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Profile `json:"body"`
	}, error) {
		items, err := e.ListProfiles(ctx, repo.ProfileFilters{Location: input.Location, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Profile `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/profiles/{profile_id}",
		Summary:     "Get profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileID string `path:"profile_id"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		p, err := e.GetProfile(ctx, input.ProfileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-profile",
		Method:      http.MethodPatch,
		Path:        "/profiles/{profile_id}",
		Summary:     "Update the caller's own profile",
		Errors:      profileErrors,
	}, func(ctx context.Context, input *struct {
		ProfileID string               `path:"profile_id"`
		Body      UpdateProfileRequest `json:"body"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		p, err := e.UpdateProfile(ctx, actorID, input.ProfileID, engine.ProfileUpdate{
			Email:       b.Email,
			FirstName:   b.FirstName,
			LastName:    b.LastName,
			Location:    b.Location,
			Description: b.Description,
			Photo:       b.Photo,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "under-application-limit",
		Method:      http.MethodGet,
		Path:        "/profiles/{profile_id}/under-application-limit",
		Summary:     "Whether the caller may still apply in the current window",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileID string `path:"profile_id"`
	}) (*struct {
		Body domain.Allowance `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.ProfileID != actorID {
			return nil, handleError(&engine.Error{Kind: engine.ErrNotOwner, Op: "under_application_limit", Msg: "profile " + input.ProfileID})
		}
		a, err := e.ApplicationAllowance(ctx, input.ProfileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Allowance `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "completed-tasks",
		Method:      http.MethodGet,
		Path:        "/profiles/{profile_id}/completed-tasks",
		Summary:     "Tasks the profile completed as the assigned helper",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileID string `path:"profile_id"`
	}) (*struct {
		Body []domain.ProfileTask `json:"body"`
	}, error) {
		items, err := e.CompletedTasks(ctx, input.ProfileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProfileTask `json:"body"`
		}{Body: nonNil(items)}, nil
	})
}

func registerSkills(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-skills",
		Method:      http.MethodGet,
		Path:        "/skills",
		Summary:     "Skill catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Skill `json:"body"`
	}, error) {
		items, err := e.ListSkills(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Skill `json:"body"`
		}{Body: nonNil(items)}, nil
	})
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"

	"taskmarket/internal/config"
	"taskmarket/internal/db"
	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
	"taskmarket/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.SeedSkills(context.Background(), cfg.Skills); err != nil {
		t.Fatalf("seed skills: %v", err)
	}
	handler, err := New(Config{Engine: e, Auth: AuthConfig{
		JWTSecret:          "test-secret",
		DevLogin:           true,
		AllowProfileHeader: true,
	}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String(), Engine: e, client: &http.Client{}}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(profileID string) map[string]string {
	return map[string]string{"X-Profile-Id": profileID}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %T: %v (%s)", out, err, string(data))
	}
	return out
}

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("%s %s status %d, want %d: %s", res.Request.Method, res.Request.URL.Path, res.StatusCode, want, string(data))
	}
}

func expectErrorCode(t *testing.T, data []byte, want string) {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	if env.Error.Code != want {
		t.Fatalf("error code %q, want %q: %s", env.Error.Code, want, string(data))
	}
}

func (s *testServer) signup(t *testing.T, username, location string) domain.Profile {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/v1/profiles", map[string]any{
		"username":   username,
		"first_name": username,
		"last_name":  "Tester",
		"location":   location,
	}, nil)
	expectStatus(t, res, data, http.StatusCreated)
	return decode[domain.Profile](t, data)
}

func (s *testServer) skillIDs(t *testing.T, codes ...string) []string {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/v1/skills", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	byCode := map[string]string{}
	for _, sk := range decode[[]domain.Skill](t, data) {
		byCode[sk.Code] = sk.ID
	}
	var ids []string
	for _, c := range codes {
		id, ok := byCode[c]
		if !ok {
			t.Fatalf("skill %s not seeded", c)
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *testServer) postTask(t *testing.T, owner, title, location string, skills ...string) domain.Task {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/v1/tasks", map[string]any{
		"title":       title,
		"description": title + " please",
		"points":      10,
		"location":    location,
		"questions":   []string{"When are you free?"},
		"skills":      skills,
	}, as(owner))
	expectStatus(t, res, data, http.StatusCreated)
	return decode[domain.Task](t, data)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	owner := srv.signup(t, "olivia", "Berlin")
	helper := srv.signup(t, "hank", "Berlin")

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v1/me/skills", map[string]any{
		"skill_ids": srv.skillIDs(t, "gardening"),
	}, as(helper.ID))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[domain.Profile](t, data); len(got.Skills) != 1 || got.Skills[0].Code != "gardening" {
		t.Fatalf("skills after update: %+v", got.Skills)
	}

	task := srv.postTask(t, owner.ID, "Mow the lawn", "Berlin", "gardening")
	if task.Status != domain.TaskOpen || task.OwnerID != owner.ID {
		t.Fatalf("unexpected task: %+v", task)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, as(helper.ID))
	expectStatus(t, res, data, http.StatusOK)
	ranked := decode[[]domain.RankedTask](t, data)
	if len(ranked) != 1 || ranked[0].ID != task.ID {
		t.Fatalf("search results: %+v", ranked)
	}
	if ranked[0].DisplayRank == nil || *ranked[0].DisplayRank != 4 {
		t.Fatalf("display rank: %v", ranked[0].DisplayRank)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/shortlist", nil, as(helper.ID))
	expectStatus(t, res, data, http.StatusCreated)

	quote := 25
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/apply", map[string]any{
		"answers": []string{"Weekends"},
		"quote":   quote,
	}, as(helper.ID))
	expectStatus(t, res, data, http.StatusOK)
	applied := decode[domain.ProfileTask](t, data)
	if applied.Status != domain.Applied || applied.Answer1 != "Weekends" || applied.Quote == nil || *applied.Quote != quote {
		t.Fatalf("application: %+v", applied)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/apply", map[string]any{}, as(helper.ID))
	expectStatus(t, res, data, http.StatusUnprocessableEntity)
	expectErrorCode(t, data, "not_eligible")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID, nil, as(helper.ID))
	expectStatus(t, res, data, http.StatusOK)
	detail := decode[TaskDetailResponse](t, data)
	if detail.Interaction == nil || detail.Interaction.State != domain.Applied {
		t.Fatalf("interaction: %+v", detail.Interaction)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID+"/applicants", nil, as(owner.ID))
	expectStatus(t, res, data, http.StatusOK)
	applicants := decode[[]domain.Applicant](t, data)
	if len(applicants) != 1 || applicants[0].Username != "hank" {
		t.Fatalf("applicants: %+v", applicants)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/profile-tasks/"+applied.ID+"/shortlist", nil, as(owner.ID))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[domain.ProfileTask](t, data); got.Status != domain.ApplicationShortlisted {
		t.Fatalf("shortlisted application: %+v", got)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/accept", map[string]any{
		"applicant_id": helper.ID,
	}, as(owner.ID))
	expectStatus(t, res, data, http.StatusOK)
	assignment := decode[engine.Assignment](t, data)
	if assignment.Task.Status != domain.TaskInProgress || assignment.Task.HelperID == nil || *assignment.Task.HelperID != helper.ID {
		t.Fatalf("assignment task: %+v", assignment.Task)
	}
	if assignment.ProfileTask.Status != domain.Assigned {
		t.Fatalf("assignment interaction: %+v", assignment.ProfileTask)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/complete", nil, as(owner.ID))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[domain.Task](t, data); got.Status != domain.TaskComplete {
		t.Fatalf("completed task: %+v", got)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/rate", map[string]any{
		"applicant_id": helper.ID,
		"rating":       5,
	}, as(owner.ID))
	expectStatus(t, res, data, http.StatusOK)
	rated := decode[engine.HelperRating](t, data)
	if rated.Profile.Rating != 5 || rated.Profile.TasksCompleted != 1 {
		t.Fatalf("rated helper: %+v", rated.Profile)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/profiles/"+helper.ID+"/completed-tasks", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[[]domain.ProfileTask](t, data); len(got) != 1 || got[0].TaskID != task.ID {
		t.Fatalf("completed tasks: %+v", got)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/profiles/"+helper.ID+"/under-application-limit", nil, as(helper.ID))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[domain.Allowance](t, data); got.Quota != 20 || !got.Under {
		t.Fatalf("allowance: %+v", got)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me/tasks/posted?status=COMPLETE", nil, as(owner.ID))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[[]domain.Task](t, data); len(got) != 1 {
		t.Fatalf("posted tasks: %+v", got)
	}
}

func TestOwnerCannotInteractWithOwnTask(t *testing.T) {
	srv := newTestServer(t)
	owner := srv.signup(t, "olivia", "Berlin")
	task := srv.postTask(t, owner.ID, "Paint fence", "Berlin")

	for _, action := range []string{"shortlist", "apply"} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/"+action, map[string]any{}, as(owner.ID))
		expectStatus(t, res, data, http.StatusForbidden)
		expectErrorCode(t, data, "own_task")
	}
}

func TestAuthRequirements(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	owner := srv.signup(t, "olivia", "Berlin")
	other := srv.signup(t, "oscar", "Hamburg")
	task := srv.postTask(t, owner.ID, "Fix bike", "Berlin")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/shortlist", nil, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)
	expectErrorCode(t, data, "unauthorized")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	expectStatus(t, res, data, http.StatusUnauthorized)
	expectErrorCode(t, data, "invalid_credentials")

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+task.ID, nil, as(other.ID))
	expectStatus(t, res, data, http.StatusForbidden)
	expectErrorCode(t, data, "not_owner")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"username": "olivia"}, nil)
	expectStatus(t, res, data, http.StatusOK)
	login := decode[DevLoginResponse](t, data)
	if login.ProfileID != owner.ID || login.Token == "" {
		t.Fatalf("login: %+v", login)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	expectStatus(t, res, data, http.StatusOK)
	me := decode[MeResponse](t, data)
	if me.Profile.ID != owner.ID || me.Source != "jwt" {
		t.Fatalf("me: %+v", me)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+task.ID, nil, map[string]string{"Authorization": "Bearer " + login.Token})
	expectStatus(t, res, data, http.StatusNoContent)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID, nil, nil)
	expectStatus(t, res, data, http.StatusNotFound)
	expectErrorCode(t, data, "not_found")
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)
	owner := srv.signup(t, "olivia", "Berlin")
	_, secret, err := srv.Engine.CreateAPIKey(context.Background(), owner.ID, "ci")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": secret})
	expectStatus(t, res, data, http.StatusOK)
	if me := decode[MeResponse](t, data); me.Profile.ID != owner.ID || me.Source != "api_key" {
		t.Fatalf("me: %+v", me)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": "nope"})
	expectStatus(t, res, data, http.StatusUnauthorized)
}

func TestAnonymousSearchIsUnranked(t *testing.T) {
	srv := newTestServer(t)
	owner := srv.signup(t, "olivia", "Berlin")
	srv.postTask(t, owner.ID, "Water plants", "Berlin", "gardening")
	srv.postTask(t, owner.ID, "Clean windows", "Munich", "cleaning")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks?skills=%20gardening,&location=berlin", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	items := decode[[]domain.RankedTask](t, data)
	if len(items) != 1 || items[0].Title != "Water plants" {
		t.Fatalf("search: %+v", items)
	}
	if items[0].DisplayRank != nil {
		t.Fatalf("anonymous search should not rank, got %d", *items[0].DisplayRank)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks?q=WINDOWS", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	if items := decode[[]domain.RankedTask](t, data); len(items) != 1 || items[0].Title != "Clean windows" {
		t.Fatalf("text search: %+v", items)
	}
}

func TestValidationErrors(t *testing.T) {
	srv := newTestServer(t)
	owner := srv.signup(t, "olivia", "Berlin")
	helper := srv.signup(t, "hank", "Berlin")
	task := srv.postTask(t, owner.ID, "Move sofa", "Berlin")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "no description"}, as(owner.ID))
	expectStatus(t, res, data, http.StatusBadRequest)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/apply", map[string]any{"quote": -1}, as(helper.ID))
	expectStatus(t, res, data, http.StatusBadRequest)
	expectErrorCode(t, data, "bad_request")

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/profiles", map[string]any{"username": "olivia"}, nil)
	expectStatus(t, res, data, http.StatusConflict)
	expectErrorCode(t, data, "conflict")
}

func TestProfileTaskVisibility(t *testing.T) {
	srv := newTestServer(t)
	owner := srv.signup(t, "olivia", "Berlin")
	helper := srv.signup(t, "hank", "Berlin")
	stranger := srv.signup(t, "sam", "Berlin")
	task := srv.postTask(t, owner.ID, "Walk dog", "Berlin")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/apply", map[string]any{}, as(helper.ID))
	expectStatus(t, res, data, http.StatusOK)
	pt := decode[domain.ProfileTask](t, data)

	for _, who := range []string{owner.ID, helper.ID} {
		res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/profile-tasks/"+pt.ID, nil, as(who))
		expectStatus(t, res, data, http.StatusOK)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/profile-tasks/"+pt.ID, nil, as(stranger.ID))
	expectStatus(t, res, data, http.StatusForbidden)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/profile-tasks/"+pt.ID+"/reject", nil, as(stranger.ID))
	expectStatus(t, res, data, http.StatusForbidden)
	expectErrorCode(t, data, "not_owner")

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/profile-tasks/"+pt.ID+"/reject", nil, as(owner.ID))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[domain.ProfileTask](t, data); got.Status != domain.Rejected {
		t.Fatalf("rejected: %+v", got)
	}
}

func TestEventsPaging(t *testing.T) {
	srv := newTestServer(t)
	owner := srv.signup(t, "olivia", "Berlin")
	for _, title := range []string{"one", "two", "three"} {
		srv.postTask(t, owner.ID, title, "Berlin")
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?entity_kind=task&limit=2", nil, as(owner.ID))
	expectStatus(t, res, data, http.StatusOK)
	page := decode[paginatedEvents](t, data)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page: %+v", page)
	}
	if page.Items[0].ID <= page.Items[1].ID {
		t.Fatalf("events should be newest first: %+v", page.Items)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?entity_kind=task&limit=2&cursor="+page.NextCursor, nil, as(owner.ID))
	expectStatus(t, res, data, http.StatusOK)
	page = decode[paginatedEvents](t, data)
	if len(page.Items) != 1 || page.NextCursor != "" {
		t.Fatalf("second page: %+v", page)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events", nil, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)
}

func TestOpenAPIAndHealth(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	for _, want := range []string{"/v1/tasks/{task_id}/apply", "bearerAuth", "/v1/profiles/{profile_id}/under-application-limit"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("openapi missing %s", want)
		}
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), "taskmarket_http_request_duration_seconds") {
		t.Fatalf("metrics missing request histogram")
	}
}

func TestApplicationLimitIsCallerOnly(t *testing.T) {
	srv := newTestServer(t)
	helper := srv.signup(t, "hank", "Berlin")
	other := srv.signup(t, "oscar", "Hamburg")
	url := srv.URL + "/v1/profiles/" + helper.ID + "/under-application-limit"

	res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)
	expectErrorCode(t, data, "unauthorized")

	res, data = doJSON(t, srv.Client(), http.MethodGet, url, nil, as(other.ID))
	expectStatus(t, res, data, http.StatusForbidden)
	expectErrorCode(t, data, "not_owner")

	res, data = doJSON(t, srv.Client(), http.MethodGet, url, nil, as(helper.ID))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[domain.Allowance](t, data); got.ProfileID != helper.ID || got.Quota != 2 || !got.Under {
		t.Fatalf("allowance: %+v", got)
	}
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	srv := newTestServer(t)
	const workers = 8
	bodies := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				return
			}
			defer res.Body.Close()
			b, _ := io.ReadAll(res.Body)
			bodies[i] = string(b)
		}(i)
	}
	wg.Wait()
	for i, b := range bodies {
		if b == "" || b != bodies[0] {
			t.Fatalf("response %d differs or is empty", i)
		}
	}
}

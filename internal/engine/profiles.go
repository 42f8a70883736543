package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"taskmarket/internal/config"
	"taskmarket/internal/domain"
	"taskmarket/internal/events"
	"taskmarket/internal/repo"
)

type ProfileCreateOptions struct {
	ID          string
	Username    string
	Email       string
	FirstName   string
	LastName    string
	Location    string
	Description string
	Photo       string
}

// CreateProfile creates an account together with its profile.
func (e Engine) CreateProfile(ctx context.Context, opts ProfileCreateOptions) (p domain.Profile, err error) {
	const op = "create_profile"
	ctx, done := e.trace(ctx, op)
	defer done(&err)

	opts.Username = strings.TrimSpace(opts.Username)
	if opts.Username == "" {
		return p, opErr(op, ErrInvalidInput, "username is required")
	}
	if strings.ContainsAny(opts.Username, " \t\n") {
		return p, opErr(op, ErrInvalidInput, "username must not contain whitespace")
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.stamp()
	acct := domain.Account{
		ID:        uuid.NewString(),
		Username:  opts.Username,
		Email:     strings.TrimSpace(opts.Email),
		FirstName: strings.TrimSpace(opts.FirstName),
		LastName:  strings.TrimSpace(opts.LastName),
		CreatedAt: now,
	}
	p = domain.Profile{
		ID:          id,
		AccountID:   acct.ID,
		Username:    acct.Username,
		Email:       acct.Email,
		FirstName:   acct.FirstName,
		LastName:    acct.LastName,
		Location:    strings.TrimSpace(opts.Location),
		Description: opts.Description,
		Photo:       opts.Photo,
		Skills:      []domain.Skill{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAccount(ctx, tx, acct); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Profile{}, opErr(op, ErrConflict, "username %s is taken", acct.Username)
		}
		return domain.Profile{}, err
	}
	if err := e.Repo.InsertProfile(ctx, tx, p); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Profile{}, opErr(op, ErrConflict, "profile %s exists", p.ID)
		}
		return domain.Profile{}, err
	}
	if err := e.events().Append(ctx, tx, events.ProfileCreated, "profile", p.ID, p.ID, events.EventPayload{"username": p.Username}); err != nil {
		return domain.Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// ProfileUpdate holds the editable profile fields; nil leaves a field unchanged.
type ProfileUpdate struct {
	Email       *string
	FirstName   *string
	LastName    *string
	Location    *string
	Description *string
	Photo       *string
}

// UpdateProfile edits the caller's own profile.
func (e Engine) UpdateProfile(ctx context.Context, actorID, profileID string, upd ProfileUpdate) (p domain.Profile, err error) {
	const op = "update_profile"
	ctx, done := e.trace(ctx, op)
	defer done(&err)

	if err := e.requireActor(op, actorID); err != nil {
		return p, err
	}
	if actorID != profileID {
		return p, opErr(op, ErrNotOwner, "profile %s", profileID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	p, err = e.loadProfile(ctx, tx, op, profileID)
	if err != nil {
		return p, err
	}
	var changed []string
	set := func(name string, dst *string, v *string) {
		if v == nil {
			return
		}
		*dst = strings.TrimSpace(*v)
		changed = append(changed, name)
	}
	set("email", &p.Email, upd.Email)
	set("first_name", &p.FirstName, upd.FirstName)
	set("last_name", &p.LastName, upd.LastName)
	set("location", &p.Location, upd.Location)
	set("description", &p.Description, upd.Description)
	set("photo", &p.Photo, upd.Photo)
	if len(changed) == 0 {
		return p, nil
	}
	p.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateProfile(ctx, tx, p); err != nil {
		return domain.Profile{}, notFound(op, "profile", profileID, err)
	}
	if err := e.events().Append(ctx, tx, events.ProfileUpdated, "profile", p.ID, actorID, events.EventPayload{"fields": changed}); err != nil {
		return domain.Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// UpdateSkills replaces the caller's claimed skills. Every id is checked
// before anything is deleted.
func (e Engine) UpdateSkills(ctx context.Context, actorID string, skillIDs []string) (p domain.Profile, err error) {
	const op = "update_skills"
	ctx, done := e.trace(ctx, op)
	defer done(&err)

	if err := e.requireActor(op, actorID); err != nil {
		return p, err
	}
	ids := dedupe(skillIDs)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	if _, err := e.loadProfile(ctx, tx, op, actorID); err != nil {
		return p, err
	}
	found, err := e.Repo.SkillsByIDs(ctx, tx, ids)
	if err != nil {
		return p, err
	}
	if len(found) != len(ids) {
		known := make(map[string]bool, len(found))
		for _, s := range found {
			known[s.ID] = true
		}
		var missing []string
		for _, id := range ids {
			if !known[id] {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		return p, opErr(op, ErrNotFound, "skills %s", strings.Join(missing, ","))
	}
	if err := e.Repo.ReplaceProfileSkills(ctx, tx, actorID, ids); err != nil {
		return p, err
	}
	codes := make([]string, 0, len(found))
	for _, s := range found {
		codes = append(codes, s.Code)
	}
	if err := e.events().Append(ctx, tx, events.ProfileSkillsUpdated, "profile", actorID, actorID, events.EventPayload{"skills": codes}); err != nil {
		return p, err
	}
	p, err = e.loadProfile(ctx, tx, op, actorID)
	if err != nil {
		return domain.Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

func (e Engine) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	return e.loadProfile(ctx, nil, "get_profile", id)
}

func (e Engine) ListProfiles(ctx context.Context, f repo.ProfileFilters) ([]domain.Profile, error) {
	return e.Repo.ListProfiles(ctx, f)
}

// CreateAPIKey issues a new API key for a profile. The plain key is only
// returned here; the store keeps its hash.
func (e Engine) CreateAPIKey(ctx context.Context, profileID, name string) (domain.APIKey, string, error) {
	const op = "create_api_key"
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if _, err := e.loadProfile(ctx, tx, op, profileID); err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "tm_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.events().Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, profileID, events.EventPayload{"name": name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

// ListSkills returns the catalog, through the skill cache when configured.
func (e Engine) ListSkills(ctx context.Context) ([]domain.Skill, error) {
	if e.Skills == nil {
		return e.Repo.ListSkills(ctx)
	}
	return e.Skills.List(ctx, e.Repo.ListSkills)
}

// AddSkill adds a skill to the catalog. Skills are administered here, never
// through the marketplace API.
func (e Engine) AddSkill(ctx context.Context, actorID, code, title string) (s domain.Skill, err error) {
	const op = "add_skill"
	ctx, done := e.trace(ctx, op)
	defer done(&err)

	code = strings.TrimSpace(code)
	if code == "" {
		return s, opErr(op, ErrInvalidInput, "code is required")
	}
	if actorID == "" {
		actorID = "admin"
	}
	s = domain.Skill{ID: uuid.NewString(), Code: code, Title: strings.TrimSpace(title)}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Skill{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSkill(ctx, tx, s); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Skill{}, opErr(op, ErrConflict, "skill %s exists", code)
		}
		return domain.Skill{}, err
	}
	if err := e.events().Append(ctx, tx, events.SkillAdded, "skill", s.ID, actorID, events.EventPayload{"code": code}); err != nil {
		return domain.Skill{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Skill{}, err
	}
	e.invalidateSkills(ctx)
	return s, nil
}

// SeedSkills inserts any configured skill whose code is missing. It returns
// the number inserted.
func (e Engine) SeedSkills(ctx context.Context, seeds []config.SkillSeed) (int, error) {
	if len(seeds) == 0 {
		return 0, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	added := 0
	for _, seed := range seeds {
		ok, err := e.Repo.EnsureSkill(ctx, tx, domain.Skill{ID: uuid.NewString(), Code: seed.Code, Title: seed.Title})
		if err != nil {
			return 0, err
		}
		if ok {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if added > 0 {
		e.invalidateSkills(ctx)
	}
	return added, nil
}

func (e Engine) invalidateSkills(ctx context.Context) {
	if e.Skills != nil {
		if err := e.Skills.Invalidate(ctx); err != nil {
			e.logger().Warn("skill cache invalidation failed", slog.String("error", err.Error()))
		}
	}
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskmarket/internal/config"
	"taskmarket/internal/domain"
	"taskmarket/internal/events"
	"taskmarket/internal/repo"
	"taskmarket/internal/telemetry"
)

var tracer = otel.Tracer("taskmarket/engine")

// SkillCatalog caches the skill list. Load is called on a miss.
type SkillCatalog interface {
	List(ctx context.Context, load func(context.Context) ([]domain.Skill, error)) ([]domain.Skill, error)
	Invalidate(ctx context.Context) error
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Skills SkillCatalog
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) stamp() string {
	return domain.FormatTime(e.now())
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// trace opens a span for op and returns the function that closes it and
// counts the outcome. Call it deferred with a pointer to the named error.
func (e Engine) trace(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		result := "ok"
		if errp != nil && *errp != nil {
			err := *errp
			result = KindCode(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		telemetry.EngineOperations.WithLabelValues(op, result).Inc()
		span.End()
	}
}

func (e Engine) requireActor(op, actorID string) error {
	if actorID == "" {
		return opErr(op, ErrInvalidInput, "acting profile required")
	}
	return nil
}

// loadTask reads a task inside tx, tagging a missing row as ErrNotFound.
func (e Engine) loadTask(ctx context.Context, tx *sql.Tx, op, taskID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return t, notFound(op, "task", taskID, err)
	}
	return t, nil
}

func (e Engine) loadProfile(ctx context.Context, tx *sql.Tx, op, profileID string) (domain.Profile, error) {
	p, err := e.Repo.GetProfile(ctx, tx, profileID)
	if err != nil {
		return p, notFound(op, "profile", profileID, err)
	}
	return p, nil
}

func (e Engine) loadInteraction(ctx context.Context, tx *sql.Tx, op, profileID, taskID string) (domain.Interaction, error) {
	rows, err := e.Repo.FindProfileTasks(ctx, tx, profileID, taskID)
	if err != nil {
		return domain.Interaction{}, err
	}
	return interactionOf(op, rows)
}

// insertInteraction creates a ProfileTask, reporting a lost race on the
// (profile, task) unique key as ErrDuplicateInteraction.
func (e Engine) insertInteraction(ctx context.Context, tx *sql.Tx, op string, pt domain.ProfileTask) error {
	if err := e.Repo.InsertProfileTask(ctx, tx, pt); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return opErr(op, ErrDuplicateInteraction, "profile %s already interacted with task %s", pt.ProfileID, pt.TaskID)
		}
		return err
	}
	return nil
}

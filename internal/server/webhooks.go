package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskmarket/internal/config"
	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
	"taskmarket/internal/retry"
	"taskmarket/internal/telemetry"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
	defaultWebhookAttempts = 3
)

var webhookTracer = otel.Tracer("taskmarket/webhooks")

// Notifier posts new events to the webhooks listed in the workspace config.
// Each hook keeps its own cursor, starting at the newest event when Run
// begins, so only events appended afterwards are delivered.
type Notifier struct {
	Engine    engine.Engine
	Logger    *slog.Logger
	Interval  time.Duration
	BaseDelay time.Duration
	Client    *http.Client

	hooks   []config.Webhook
	cursors map[int]int64
}

func NewNotifier(e engine.Engine, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	var hooks []config.Webhook
	if e.Config != nil {
		for _, h := range e.Config.Webhooks {
			if h.IsEnabled() && strings.TrimSpace(h.URL) != "" {
				hooks = append(hooks, h)
			}
		}
	}
	return &Notifier{
		Engine:    e,
		Logger:    logger,
		Interval:  defaultWebhookInterval,
		BaseDelay: 500 * time.Millisecond,
		Client:    &http.Client{Timeout: defaultWebhookTimeout},
		hooks:     hooks,
	}
}

// Enabled reports whether any hook is configured.
func (n *Notifier) Enabled() bool { return len(n.hooks) > 0 }

// Run delivers events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	if !n.Enabled() {
		<-ctx.Done()
		return nil
	}
	n.cursors = make(map[int]int64, len(n.hooks))
	latest, err := n.Engine.Repo.LatestEventID(ctx)
	if err != nil {
		return fmt.Errorf("webhooks: init cursor: %w", err)
	}
	for i := range n.hooks {
		n.cursors[i] = latest
	}
	interval := n.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.dispatchAll(ctx)
		}
	}
}

func (n *Notifier) dispatchAll(ctx context.Context) {
	for i, hook := range n.hooks {
		if ctx.Err() != nil {
			return
		}
		n.dispatch(ctx, i, hook)
	}
}

func (n *Notifier) dispatch(ctx context.Context, idx int, hook config.Webhook) {
	evts, err := n.Engine.Repo.EventsAfter(ctx, defaultWebhookBatch, n.cursors[idx])
	if err != nil {
		n.Logger.Error("webhook: fetch events failed", slog.String("error", err.Error()))
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if filter.match(evt.Type) {
			if err := n.deliver(ctx, hook, evt); err != nil {
				// keep the cursor so the event is retried on the next tick
				n.Logger.Warn("webhook: delivery failed",
					slog.String("url", hook.URL),
					slog.Int64("event_id", evt.ID),
					slog.String("error", err.Error()),
				)
				return
			}
		}
		n.cursors[idx] = evt.ID
	}
}

func (n *Notifier) deliver(ctx context.Context, hook config.Webhook, evt domain.Event) (err error) {
	ctx, span := webhookTracer.Start(ctx, "webhook.deliver", trace.WithAttributes(
		attribute.String("webhook.url", hook.URL),
		attribute.String("event.type", evt.Type),
		attribute.Int64("event.id", evt.ID),
	))
	defer func() {
		result := "ok"
		if err != nil {
			result = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		telemetry.WebhookDeliveries.WithLabelValues(result).Inc()
		span.End()
	}()

	data, err := json.Marshal(webhookBody(evt))
	if err != nil {
		return err
	}
	attempts := hook.MaxAttempts
	if attempts <= 0 {
		attempts = defaultWebhookAttempts
	}
	return retry.Do(ctx, retry.Config{
		MaxAttempts: attempts,
		BaseDelay:   n.BaseDelay,
		OnRetry: func(attempt int, err error) {
			n.Logger.Debug("webhook: retrying",
				slog.String("url", hook.URL),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, func(ctx context.Context) error {
		return n.post(ctx, hook, evt, data)
	})
}

func (n *Notifier) post(ctx context.Context, hook config.Webhook, evt domain.Event, data []byte) error {
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout, Transport: client.Transport}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Taskmarket-Event", evt.Type)
	req.Header.Set("X-Taskmarket-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Taskmarket-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func webhookBody(evt domain.Event) webhookEvent {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	}
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(types []string) eventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if key := strings.TrimSpace(t); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evtType string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evtType]
	return ok
}

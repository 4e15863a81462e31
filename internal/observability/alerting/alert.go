package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	xerrors "VaultKeeper-Claude/internal/errors"
	"VaultKeeper-Claude/pkg/logger"
)

// Event describes one failed task worth paging about.
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	TaskID     string
	Agent      string
	RequestID  string
	OccurredAt time.Time
}

// Notifier delivers events to one destination.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher broadcasts events.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher sends every event to all registered notifiers whose
// threshold it meets.
type FanoutDispatcher struct {
	notifiers []Notifier
	threshold xerrors.Severity
}

// NewFanout builds a dispatcher that forwards events at or above threshold.
func NewFanout(threshold xerrors.Severity, notifiers ...Notifier) *FanoutDispatcher {
	set := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			set = append(set, n)
		}
	}
	if threshold == "" {
		threshold = xerrors.SeverityCritical
	}
	return &FanoutDispatcher{notifiers: set, threshold: threshold}
}

// Notify broadcasts event. Events below the threshold are dropped.
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil || rank(event.Severity) < rank(d.threshold) {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("notifier %s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func rank(s xerrors.Severity) int {
	switch s {
	case xerrors.SeverityInfo:
		return 0
	case xerrors.SeverityWarning:
		return 1
	default:
		return 2
	}
}

// LogNotifier writes events to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	l := n.Logger
	if l == nil {
		l = logger.Named("alerting")
	}
	l.Log(ctx, slog.LevelError, "task alert",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("task_id", event.TaskID),
		slog.String("agent", event.Agent),
		slog.String("request_id", event.RequestID),
		slog.String("message", event.Message),
	)
	return nil
}

// WebhookNotifier posts a Slack-compatible {"text": ...} payload.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("webhook notifier has no url, skipping", slog.String("task_id", event.TaskID))
		return nil
	}
	body, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*[%s]* %s %s/%s: %s", event.Severity, event.Code, event.Agent, event.TaskID, event.Message),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

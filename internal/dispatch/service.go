package dispatch

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	xerrors "VaultKeeper-Claude/internal/errors"
	"VaultKeeper-Claude/internal/llm"
	"VaultKeeper-Claude/internal/observability/alerting"
	"VaultKeeper-Claude/internal/observability/metrics"
	"VaultKeeper-Claude/internal/task"
	"VaultKeeper-Claude/pkg/logger"
)

const (
	timeoutMessage = "Request timeout - Claude API took too long"
	alertTimeout   = 5 * time.Second
)

var (
	errTimeout  = xerrors.New(xerrors.CodeTimeout, "")
	errUpstream = xerrors.New(xerrors.CodeUpstreamHTTP, "")
)

// Sequence is the per-process counter behind generated task ids. It only
// increases and is safe for concurrent use.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next value, starting at 1.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// Service turns tasks into model calls and normalizes the outcome.
type Service struct {
	client    llm.Client
	maxTokens int
	seq       *Sequence
	now       func() time.Time
	logger    *slog.Logger
	audit     *slog.Logger
	metrics   *metrics.Metrics
	alerts    alerting.Dispatcher
	pending   sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithSequence shares a counter between services.
func WithSequence(seq *Sequence) Option {
	return func(s *Service) {
		if seq != nil {
			s.seq = seq
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuditLogger sets the logger receiving one record per task.
func WithAuditLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// WithMetrics enables dispatch metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAlerter forwards failed tasks to a. The dispatcher applies its own
// severity threshold.
func WithAlerter(a alerting.Dispatcher) Option {
	return func(s *Service) {
		s.alerts = a
	}
}

// WithMaxTokens overrides the output budget sent upstream.
func WithMaxTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// New creates a Service around client.
func New(client llm.Client, opts ...Option) *Service {
	s := &Service{
		client: client,
		seq:    &Sequence{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("dispatch")
	}
	if s.audit == nil {
		s.audit = logger.Audit()
	}
	return s
}

// NextID formats a fresh task id for agent.
func (s *Service) NextID(agent string) string {
	return fmt.Sprintf("%s_%s_%03d", agent, s.now().UTC().Format(task.IDTimeLayout), s.seq.Next())
}

// Process dispatches t and always returns an envelope; every failure is
// reported through the envelope rather than as an error.
func (s *Service) Process(ctx context.Context, t task.Task) task.Envelope {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	if t.ID == "" {
		t = t.WithID(s.NextID(t.AgentName))
	}

	log := logger.FromContext(ctx, s.logger).With(
		slog.String("task_id", t.ID),
		slog.String("agent", t.AgentName),
		slog.String("task_type", t.TaskType),
	)
	log.Info("processing task", slog.String("priority", t.Priority))

	resp, err := s.call(ctx, task.BuildPrompt(t))

	var env task.Envelope
	if err != nil {
		code, message := describe(err)
		sev := severityFor(code, err)
		env = task.Failed(t, string(code), message, s.now())
		log.Log(ctx, levelFor(sev), "task failed",
			slog.String("code", string(code)),
			slog.Any("error", err),
		)
		s.alert(ctx, log, alerting.Event{
			Code:       code,
			Message:    message,
			Severity:   sev,
			TaskID:     t.ID,
			Agent:      t.AgentName,
			RequestID:  logger.RequestIDFrom(ctx),
			OccurredAt: env.Timestamp,
		})
	} else {
		env = task.Succeeded(t, resp.Text, resp.Usage.Total(), s.now())
		log.Info("task completed", slog.Int("tokens_used", env.TokensUsed))
	}

	elapsed := time.Since(start)
	s.metrics.ObserveDispatch(agentLabel(t.AgentName), string(env.Status), env.ErrorCode, env.TokensUsed, elapsed)
	s.audit.Info("task_audit",
		slog.String("task_id", env.TaskID),
		slog.String("agent", env.Agent),
		slog.String("task_type", env.TaskType),
		slog.String("status", string(env.Status)),
		slog.String("error_code", env.ErrorCode),
		slog.Int("tokens_used", env.TokensUsed),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
		slog.String("request_id", logger.RequestIDFrom(ctx)),
	)
	return env
}

// ProcessBatch dispatches tasks one after another; results keep input order.
func (s *Service) ProcessBatch(ctx context.Context, tasks []task.Task) task.BatchEnvelope {
	batchID := task.BatchID(s.now())
	results := make([]task.Envelope, 0, len(tasks))
	for _, t := range tasks {
		results = append(results, s.Process(ctx, t))
	}
	logger.FromContext(ctx, s.logger).Info("batch processed",
		slog.String("batch_id", batchID),
		slog.Int("total_tasks", len(tasks)),
	)
	return task.BatchEnvelope{
		BatchID:    batchID,
		TotalTasks: len(tasks),
		Results:    results,
		Timestamp:  s.now().UTC(),
	}
}

// call performs the upstream request. The caller's cancellation is detached:
// only the client's own timeout bounds the call.
func (s *Service) call(ctx context.Context, prompt string) (resp *llm.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = xerrors.Wrap(xerrors.CodeUnexpected, fmt.Errorf("panic: %v", r), "")
		}
	}()

	if s.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "model client is not configured")
	}
	resp, err = s.client.Generate(context.WithoutCancel(ctx), llm.Request{
		Prompt:    prompt,
		MaxTokens: s.maxTokens,
	})
	if err == nil && resp == nil {
		err = xerrors.New(xerrors.CodeUnexpected, "model client returned no response")
	}
	return resp, err
}

// otherAgentLabel groups agent names outside the known set so callers cannot
// grow the metric series without bound.
const otherAgentLabel = "other"

var agentLabels = func() map[string]struct{} {
	set := map[string]struct{}{task.DefaultBatchAgent: {}}
	for _, name := range task.KnownAgents() {
		set[name] = struct{}{}
	}
	return set
}()

func agentLabel(agent string) string {
	if _, ok := agentLabels[agent]; ok {
		return agent
	}
	return otherAgentLabel
}

// describe maps err onto the envelope code and message, checking timeout
// first, then upstream failures, then everything else.
func describe(err error) (xerrors.Code, string) {
	switch {
	case stdErrors.Is(err, errTimeout) || stdErrors.Is(err, context.DeadlineExceeded):
		return xerrors.CodeTimeout, timeoutMessage
	case stdErrors.Is(err, errUpstream):
		return xerrors.CodeUpstreamHTTP, "HTTP Error: " + detail(err)
	default:
		return xerrors.CodeUnexpected, "Unexpected error: " + detail(err)
	}
}

func detail(err error) string {
	if coded, ok := xerrors.From(err); ok {
		return coded.Detail()
	}
	return err.Error()
}

// alert delivers event in the background, bounded by alertTimeout, so a slow
// notifier never delays the response.
func (s *Service) alert(ctx context.Context, log *slog.Logger, event alerting.Event) {
	if s.alerts == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer cancel()
		if err := s.alerts.Notify(actx, event); err != nil {
			log.Warn("alert delivery failed", slog.Any("error", err))
		}
	}()
}

// Wait blocks until in-flight alert deliveries have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// severityFor prefers an explicit severity carried by err and falls back to
// the default of the classified code.
func severityFor(code xerrors.Code, err error) xerrors.Severity {
	if coded, ok := xerrors.From(err); ok && coded.Code() == code {
		return coded.Severity()
	}
	return xerrors.AttributesOf(code).Severity
}

func levelFor(sev xerrors.Severity) slog.Level {
	switch sev {
	case xerrors.SeverityInfo:
		return slog.LevelInfo
	case xerrors.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

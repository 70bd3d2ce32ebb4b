package triage

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
)

var tracer = otel.Tracer("github.com/linnemanlabs/docket/internal/triage")

// Stage names one step of the pipeline.
type Stage string

const (
	StageContext   Stage = "context"
	StagePriority  Stage = "priority"
	StageAssignee  Stage = "assignee"
	StageRationale Stage = "rationale"
	StageReply     Stage = "reply"
	StagePersist   Stage = "persist"
)

// Run outcomes reported to hooks.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// stage consumes the record produced so far and returns the extended copy.
// A non-nil error becomes Record.Err; the returned record is used either way.
type stage interface {
	Name() Stage
	Run(ctx context.Context, rec Record) (Record, error)
}

// PipelineHooks are optional callbacks for observability. Nil fields are skipped.
type PipelineHooks struct {
	OnStage     func(stage Stage, duration float64, failed bool)
	OnInference func(stage Stage, duration float64, usage Usage, err error)
	OnFallback  func(stage Stage, reason string)
	OnComplete  func(e *CompleteEvent)
}

// CompleteEvent summarises a finished run.
type CompleteEvent struct {
	TicketID  string
	Outcome   string
	Duration  float64
	Level     Level
	Assignee  string
	Ambiguous bool
}

func (h PipelineHooks) stage(s Stage, dur float64, failed bool) {
	if h.OnStage != nil {
		h.OnStage(s, dur, failed)
	}
}

func (h PipelineHooks) inference(s Stage, dur float64, u Usage, err error) {
	if h.OnInference != nil {
		h.OnInference(s, dur, u, err)
	}
}

func (h PipelineHooks) fallback(s Stage, reason string) {
	if h.OnFallback != nil {
		h.OnFallback(s, reason)
	}
}

func (h PipelineHooks) complete(e *CompleteEvent) {
	if h.OnComplete != nil {
		h.OnComplete(e)
	}
}

// Options is the process-wide pipeline configuration, fixed at construction.
type Options struct {
	// InferenceEnabled allows stages to call the Provider. When false every
	// stage uses its local heuristic.
	InferenceEnabled bool

	// IncrementWorkload bumps the assigned team's workload counter on persist.
	IncrementWorkload bool

	// Now and NewID default to time.Now and ULIDs.
	Now   func() time.Time
	NewID func() string
}

// Pipeline runs the triage stages in their fixed order.
type Pipeline struct {
	stages []stage
	logger log.Logger
	hooks  PipelineHooks
}

// NewPipeline wires the six stages against store and provider.
func NewPipeline(store Store, provider Provider, logger log.Logger, hooks PipelineHooks, opts Options) *Pipeline {
	if store == nil {
		panic(xerrors.New("triage store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return ulid.Make().String() }
	}

	llm := &inference{provider: provider, enabled: opts.InferenceEnabled, hooks: hooks}
	stageLogger := func(s Stage) log.Logger { return logger.With("stage", string(s)) }

	return &Pipeline{
		logger: logger,
		hooks:  hooks,
		stages: []stage{
			&contextStage{
				comments:    store,
				attachments: store,
				logger:      stageLogger(StageContext),
			},
			&priorityStage{llm: llm, logger: stageLogger(StagePriority)},
			&assigneeStage{
				roster:     store,
				classifier: &ambiguityClassifier{llm: llm, logger: stageLogger(StageAssignee)},
				llm:        llm,
				logger:     stageLogger(StageAssignee),
			},
			&rationaleStage{roster: store, llm: llm, logger: stageLogger(StageRationale)},
			&replyStage{llm: llm, logger: stageLogger(StageReply)},
			&persistStage{
				store:             store,
				logger:            stageLogger(StagePersist),
				now:               opts.Now,
				newID:             opts.NewID,
				incrementWorkload: opts.IncrementWorkload,
			},
		},
	}
}

// Run executes every stage in order. A failing stage never stops the run:
// each stage tolerates missing upstream output, so later stages still do
// their (possibly degraded) work. Callers check Record.Err afterwards.
func (p *Pipeline) Run(ctx context.Context, t Ticket) Record {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "triage.run", trace.WithAttributes(
		attribute.String("docket.ticket.id", t.ID),
	))
	defer span.End()

	L := p.logger.With("ticket_id", t.ID)

	rec := Record{Ticket: t}
	for _, st := range p.stages {
		rec = p.runStage(ctx, L, st, rec)
	}

	out := rec.Outcome()
	ev := &CompleteEvent{
		TicketID: t.ID,
		Outcome:  OutcomeOK,
		Duration: time.Since(start).Seconds(),
		Level:    out.Priority,
		Assignee: out.Assignee,
	}
	if rec.Assignee != nil {
		ev.Ambiguous = rec.Assignee.Ambiguous
	}

	span.SetAttributes(
		attribute.String("docket.priority", string(out.Priority)),
		attribute.String("docket.assignee", out.Assignee),
	)

	if rec.Err != nil {
		ev.Outcome = OutcomeFailed
		span.RecordError(rec.Err)
		span.SetStatus(codes.Error, rec.Err.Error())
		L.Warn(ctx, "triage finished with error",
			"error", rec.Err,
			"priority", out.Priority,
			"assignee", out.Assignee,
			"duration", ev.Duration,
		)
	} else {
		L.Info(ctx, "triage complete",
			"priority", out.Priority,
			"confidence", out.Confidence,
			"assignee", out.Assignee,
			"duration", ev.Duration,
		)
	}
	p.hooks.complete(ev)

	return rec
}

func (p *Pipeline) runStage(ctx context.Context, L log.Logger, st stage, rec Record) (out Record) {
	name := st.Name()

	ctx, span := tracer.Start(ctx, "triage.stage", trace.WithAttributes(
		attribute.String("docket.stage", string(name)),
	))
	defer span.End()

	// DB query logs pick the stage up from the context logger.
	ctx = log.WithContext(ctx, L.With("stage", string(name)))

	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s stage panic: %v", name, r)
			out = rec
			out.Err = err
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		p.hooks.stage(name, time.Since(start).Seconds(), err != nil)
	}()

	out, err = st.Run(ctx, rec)
	if err != nil {
		out.Err = err
	}
	return out
}

// stageError prefixes err with the stage that produced it.
func stageError(s Stage, err error) error {
	return fmt.Errorf("%s stage: %w", s, err)
}

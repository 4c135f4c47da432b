// Package dispatch resolves send directives into targets, fans the message
// out and aggregates a per-project report over the whole partner roster.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dispatchbot/internal/directive"
	"dispatchbot/internal/domain"
	"dispatchbot/internal/eventbus"
	logx "dispatchbot/pkg/logx"
)

var tracer trace.Tracer = otel.Tracer("dispatchbot/dispatch")

// Store is what a send command reads and writes.
type Store interface {
	Registry
	Ledger
}

type Options struct {
	MaxContent int
	Parallel   int
	RatePerSec float64
	// TextLimit overrides the transport's own message cap.
	TextLimit int
}

// Result carries everything the caller needs to answer the operator, also on
// the ErrNoTargets and ErrAllFailed paths.
type Result struct {
	BatchID   string
	Directive directive.Directive
	Plan      Plan
	Outcomes  []Outcome
	Report    Report
}

type Service struct {
	store Store
	disp  *Dispatcher
	bus   eventbus.Bus
	log   logx.Logger
	opts  Options

	newBatchID func() string
}

func New(store Store, tx Transport, bus eventbus.Bus, opts Options, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	if opts.MaxContent <= 0 {
		opts.MaxContent = directive.DefaultMaxContent
	}
	return &Service{
		store: store,
		disp: NewDispatcher(tx, store, DispatcherOptions{
			Parallel:   opts.Parallel,
			RatePerSec: opts.RatePerSec,
			TextLimit:  opts.TextLimit,
		}, log.With(logx.String("comp", "dispatcher"))),
		bus:        bus,
		log:        log,
		opts:       opts,
		newBatchID: func() string { return uuid.NewString() },
	}
}

// Send runs a raw send command end to end.
func (s *Service) Send(ctx context.Context, raw string) (Result, error) {
	ctx, span := tracer.Start(ctx, "dispatch.Send", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	var res Result
	d, err := directive.Parse(raw, s.opts.MaxContent)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	res.Directive = d
	res.BatchID = s.newBatchID()
	span.SetAttributes(
		attribute.String("batch_id", res.BatchID),
		attribute.Int("groups", len(d.Groups)),
	)

	plan, err := Resolve(ctx, s.store, d.Groups)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	res.Plan = plan

	targets := plan.Targets()
	if len(targets) == 0 {
		return res, domain.ErrNoTargets
	}
	span.SetAttributes(attribute.Int("targets", len(targets)))

	start := time.Now()
	res.Outcomes = s.disp.Dispatch(ctx, res.BatchID, d.Content, targets)
	took := time.Since(start)

	partners, err := s.store.ListPartners(ctx)
	if err != nil {
		return res, fmt.Errorf("list partners for report: %w", err)
	}
	res.Report = BuildReport(partners, plan, res.Outcomes)
	res.Report.BatchID = res.BatchID

	for _, o := range res.Outcomes {
		if o.OK() {
			continue
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTargetFailed, Data: eventbus.TargetFailed{
			BatchID: res.BatchID,
			Partner: o.Partner.Name,
			Project: o.Project.Name,
			Reason:  o.Err.Error(),
		}})
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchCompleted, Data: eventbus.DispatchCompleted{
		BatchID:  res.BatchID,
		Sent:     res.Report.Sent,
		Failed:   res.Report.Failed,
		Duration: took,
	}})

	s.log.Info("dispatch finished",
		logx.String("batch_id", res.BatchID),
		logx.Int("targets", len(targets)),
		logx.Int("sent", res.Report.Sent),
		logx.Int("failed", res.Report.Failed),
		logx.Duration("took", took),
	)
	span.SetAttributes(attribute.Int("sent", res.Report.Sent), attribute.Int("failed", res.Report.Failed))

	if res.Report.Sent == 0 {
		span.SetStatus(codes.Error, domain.ErrAllFailed.Error())
		return res, domain.ErrAllFailed
	}
	return res, nil
}

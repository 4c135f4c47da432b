// Package tracking moves delivery records along the status chain, driven by
// partner replies and by operator overrides.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dispatchbot/internal/domain"
	"dispatchbot/internal/eventbus"
	"dispatchbot/internal/storage"
	logx "dispatchbot/pkg/logx"
)

var tracer trace.Tracer = otel.Tracer("dispatchbot/tracking")

type Store interface {
	DeliveriesByExternalID(ctx context.Context, externalID string) ([]domain.DeliveryRecord, error)
	DeliveryByID(ctx context.Context, id int64) (domain.DeliveryRecord, error)
	AdvanceDelivery(ctx context.Context, id int64, fromRaw string, to domain.Status, at time.Time, reply string) (bool, error)

	FindPartner(ctx context.Context, ident string) (domain.Partner, error)
	ProjectsByPartner(ctx context.Context, partnerID int64) ([]domain.Project, error)
	LatestDelivery(ctx context.Context, projectID int64) (domain.DeliveryRecord, error)
	SetDeliveryStatus(ctx context.Context, id int64, to domain.Status, at time.Time) error
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Transition describes an applied status change.
type Transition struct {
	Record domain.DeliveryRecord
	// From is the stored status text before the change.
	From  string
	To    domain.Status
	Reply string
	// Warning is set when the replied-to message correlated with several
	// records; the first one was used.
	Warning *domain.IntegrityWarning
}

type Service struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func New(store Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Service{store: store, bus: bus, log: log, now: time.Now}
}

// HandleReply applies a "<tag> | <text>" reply to the record correlated with
// repliedTo. Records move strictly forward; the update is conditional on the
// status read, so two racing replies cannot both apply.
func (s *Service) HandleReply(ctx context.Context, repliedTo, body string) (Transition, error) {
	ctx, span := tracer.Start(ctx, "tracking.HandleReply", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	r, err := ParseReply(body)
	if err != nil {
		return Transition{}, err
	}
	span.SetAttributes(attribute.String("tag", string(r.Tag)), attribute.String("message_id", repliedTo))

	recs, err := s.store.DeliveriesByExternalID(ctx, repliedTo)
	if err != nil {
		return Transition{}, fmt.Errorf("correlate reply: %w", err)
	}
	if len(recs) == 0 {
		return Transition{}, domain.NotFound(domain.KindRecord, repliedTo)
	}
	tr := Transition{To: r.Target, Reply: r.Text}
	if len(recs) > 1 {
		tr.Warning = &domain.IntegrityWarning{Key: repliedTo, Count: len(recs)}
		s.log.Warn("duplicate correlation key", logx.String("message_id", repliedTo), logx.Int("records", len(recs)))
	}
	rec := recs[0]

	// One retry covers a concurrent writer; the re-read record is checked again.
	for attempt := 0; attempt < 2; attempt++ {
		tr.Record, tr.From = rec, rec.StatusText()
		if err := CheckForward(rec.Status, r.Target); err != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeTransitionRejected, Data: eventbus.TransitionRejected{
				RecordID: rec.ID, From: rec.StatusText(), To: r.Target.String(),
			}})
			return tr, err
		}
		ok, err := s.store.AdvanceDelivery(ctx, rec.ID, rec.RawStatus, r.Target, s.now(), r.Text)
		if err != nil {
			return tr, fmt.Errorf("advance record %d: %w", rec.ID, err)
		}
		if ok {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeStatusChanged, Data: eventbus.StatusChanged{
				RecordID: rec.ID, From: tr.From, To: r.Target.String(),
			}})
			s.log.Info("status updated",
				logx.Int64("record_id", rec.ID),
				logx.String("partner", rec.PartnerName),
				logx.String("project", rec.ProjectName),
				logx.String("from", tr.From),
				logx.String("to", r.Target.String()),
			)
			return tr, nil
		}
		rec, err = s.store.DeliveryByID(ctx, rec.ID)
		if err != nil {
			return tr, err
		}
	}
	return tr, fmt.Errorf("record %d: %w", rec.ID, domain.ErrConflict)
}

// AdminUpdate is an operator override of the latest record of a project.
type AdminUpdate struct {
	Partner string
	Project string
	Status  string

	ActorID   string
	ActorName string
	ChannelID string
}

type AdminResult struct {
	Record   domain.DeliveryRecord
	From     string
	To       domain.Status
	Backward bool
}

// AdminSetStatus overwrites the status of the project's most recent record
// without the forward-only check. Every call is audited.
func (s *Service) AdminSetStatus(ctx context.Context, u AdminUpdate) (res AdminResult, err error) {
	start := s.now()
	defer func() {
		s.audit(ctx, u, res, err, start)
	}()

	to, err := domain.ParseStatus(u.Status)
	if err != nil {
		return res, err
	}
	res.To = to

	p, err := s.store.FindPartner(ctx, u.Partner)
	if err != nil {
		return res, err
	}
	projects, err := s.store.ProjectsByPartner(ctx, p.ID)
	if err != nil {
		return res, err
	}
	var project *domain.Project
	for i := range projects {
		if projects[i].Name == u.Project {
			project = &projects[i]
			break
		}
	}
	if project == nil {
		return res, domain.NotFound(domain.KindProject, u.Project+" in "+p.Name)
	}

	rec, err := s.store.LatestDelivery(ctx, project.ID)
	if err != nil {
		return res, err
	}
	if err := s.store.SetDeliveryStatus(ctx, rec.ID, to, s.now()); err != nil {
		return res, err
	}
	res.Record = rec
	res.From = rec.StatusText()
	res.Backward = rec.Status.Known() && to.Index() < rec.Status.Index()

	s.bus.Publish(eventbus.Event{Type: eventbus.TypeStatusChanged, Data: eventbus.StatusChanged{
		RecordID: rec.ID, From: res.From, To: to.String(), Admin: true,
	}})
	fields := []logx.Field{
		logx.String("actor", u.ActorName),
		logx.Int64("record_id", rec.ID),
		logx.String("from", res.From),
		logx.String("to", to.String()),
	}
	if res.Backward {
		s.log.Warn("admin moved record backwards", fields...)
	} else {
		s.log.Info("admin status update", fields...)
	}
	return res, nil
}

func (s *Service) audit(ctx context.Context, u AdminUpdate, res AdminResult, err error, start time.Time) {
	meta, _ := json.Marshal(map[string]any{
		"status":    u.Status,
		"from":      res.From,
		"record_id": res.Record.ID,
		"backward":  res.Backward,
	})
	e := storage.AuditEntry{
		At:        start,
		ActorID:   u.ActorID,
		ActorName: u.ActorName,
		ChannelID: u.ChannelID,
		Action:    "message_status",
		Target:    strings.TrimSpace(u.Partner + "/" + u.Project),
		OK:        err == nil,
		TookMS:    s.now().Sub(start).Milliseconds(),
		MetaJSON:  string(meta),
	}
	if err != nil {
		e.Error = err.Error()
	}
	// Audit even if the request context is done.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if aerr := s.store.AppendAudit(actx, e); aerr != nil && !errors.Is(aerr, context.Canceled) {
		s.log.Warn("audit write failed", logx.Err(aerr))
	}
}

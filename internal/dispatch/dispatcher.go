package dispatch

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"dispatchbot/internal/domain"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

// Transport is the part of a chat adapter the dispatcher needs.
type Transport interface {
	LocateChannel(ctx context.Context, channelID string) (kit.Channel, error)
	SendText(ctx context.Context, channelID, text string) (kit.MessageRef, error)
}

// Ledger records successful sends.
type Ledger interface {
	InsertDelivery(ctx context.Context, r domain.DeliveryRecord) (int64, error)
}

type Target struct {
	Partner domain.Partner
	Project domain.Project
}

// Outcome is the result of one target. Err is nil on success.
type Outcome struct {
	Target
	RecordID  int64
	MessageID string
	Err       error
}

func (o Outcome) OK() bool { return o.Err == nil }

type DispatcherOptions struct {
	// Parallel bounds concurrent sends within one batch.
	Parallel int
	// RatePerSec throttles sends across batches; 0 disables.
	RatePerSec float64
	// TextLimit is the longest composed message, in runes, the transport
	// delivers as a single message. 0 disables the check.
	TextLimit int
}

// Dispatcher fans one message out to many targets. Each target is attempted
// exactly once; a failure never stops or rolls back the others.
type Dispatcher struct {
	tx      Transport
	ledger  Ledger
	log     logx.Logger
	limiter *rate.Limiter
	par     int
	textMax int
}

func NewDispatcher(tx Transport, ledger Ledger, opts DispatcherOptions, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{tx: tx, ledger: ledger, log: log, par: max(1, opts.Parallel), textMax: opts.TextLimit}
	if d.textMax <= 0 {
		d.textMax = kit.TextLimitOf(tx)
	}
	if opts.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), max(1, int(opts.RatePerSec)))
	}
	return d
}

// Dispatch sends content to every target. Outcomes keep target order.
func (d *Dispatcher) Dispatch(ctx context.Context, batchID, content string, targets []Target) []Outcome {
	out := make([]Outcome, len(targets))
	var g errgroup.Group
	g.SetLimit(d.par)
	for i, t := range targets {
		g.Go(func() error {
			out[i] = d.sendOne(ctx, batchID, content, t)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Dispatcher) sendOne(ctx context.Context, batchID, content string, t Target) Outcome {
	o := Outcome{Target: t}
	log := d.log.With(
		logx.String("partner", t.Partner.Name),
		logx.String("project", t.Project.Name),
		logx.String("channel_id", t.Project.ChannelID),
	)

	// A split message would leave replies to the later chunks uncorrelated.
	text := Compose(t.Partner, content)
	if n := utf8.RuneCountInString(text); d.textMax > 0 && n > d.textMax {
		log.Warn("composed message over platform limit", logx.Int("length", n), logx.Int("limit", d.textMax))
		o.Err = &domain.ValidationError{
			Code: domain.CodeContentTooLong,
			Msg:  fmt.Sprintf("message for %s is %d characters with its tag line; the platform limit is %d", t.Project.Name, n, d.textMax),
		}
		return o
	}

	if _, err := d.tx.LocateChannel(ctx, t.Project.ChannelID); err != nil {
		log.Debug("channel not located", logx.Err(err))
		o.Err = err
		return o
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			o.Err = err
			return o
		}
	}

	ref, err := d.tx.SendText(ctx, t.Project.ChannelID, text)
	if err != nil {
		log.Warn("send failed", logx.Err(err))
		o.Err = &domain.TransportError{Target: t.Project.Name, Err: err}
		return o
	}
	o.MessageID = ref.MessageID

	id, err := d.ledger.InsertDelivery(ctx, domain.DeliveryRecord{
		PartnerID:         t.Partner.ID,
		ProjectID:         t.Project.ID,
		BatchID:           batchID,
		Content:           content,
		ExternalMessageID: ref.MessageID,
		Status:            domain.StatusRequested,
		Timestamp:         time.Now(),
	})
	if err != nil {
		// The message is out but replies to it cannot correlate, so the
		// target counts as failed.
		log.Error("ledger insert failed after send", logx.String("message_id", ref.MessageID), logx.Err(err))
		o.Err = fmt.Errorf("record delivery for %s: %w", t.Project.Name, err)
		return o
	}
	o.RecordID = id
	log.Debug("sent", logx.String("message_id", ref.MessageID), logx.Int64("record_id", id))
	return o
}

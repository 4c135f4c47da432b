package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchbot/internal/domain"
	"dispatchbot/internal/eventbus"
	"dispatchbot/internal/storage"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

type fakeTransport struct {
	mu       sync.Mutex
	known    map[string]bool
	failSend map[string]bool
	seq      int
	sent     map[string][]string // channel -> texts
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{known: map[string]bool{}, failSend: map[string]bool{}, sent: map[string][]string{}}
}

func (f *fakeTransport) LocateChannel(_ context.Context, id string) (kit.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[id] {
		return kit.Channel{}, domain.NotFound(domain.KindChannel, id)
	}
	return kit.Channel{ID: id, Sendable: true}, nil
}

func (f *fakeTransport) SendText(_ context.Context, id, text string) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend[id] {
		return kit.MessageRef{}, errors.New("missing access")
	}
	f.seq++
	f.sent[id] = append(f.sent[id], text)
	return kit.MessageRef{ChannelID: id, MessageID: fmt.Sprintf("msg-%d", f.seq)}, nil
}

type fixture struct {
	st  *storage.Store
	tx  *fakeTransport
	svc *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "d.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	tx := newFakeTransport()
	return &fixture{st: st, tx: tx, svc: New(st, tx, eventbus.New(), Options{Parallel: 4}, logx.Nop())}
}

// partner registers a partner whose project channels are all locatable.
func (f *fixture) partner(t *testing.T, name string, tags []string, projects ...string) domain.Partner {
	t.Helper()
	var prs []domain.Project
	for _, p := range projects {
		ch := name + "/" + p
		prs = append(prs, domain.Project{Name: p, ChannelID: ch})
		f.tx.known[ch] = true
	}
	p, err := f.st.CreatePartner(context.Background(), domain.Partner{Name: name, ServerID: "srv", TimezoneOffset: "+07:00", Tags: tags}, prs)
	require.NoError(t, err)
	return p
}

func (f *fixture) records(t *testing.T) []domain.DeliveryRecord {
	t.Helper()
	recs, err := f.st.ListDeliveries(context.Background(), storage.DeliveryFilter{})
	require.NoError(t, err)
	return recs
}

func block(t *testing.T, r Report, partner string) PartnerBlock {
	t.Helper()
	for _, b := range r.Blocks {
		if b.Partner.Name == partner {
			return b
		}
	}
	t.Fatalf("no report block for %s", partner)
	return PartnerBlock{}
}

func classes(b PartnerBlock) map[string]Classification {
	out := map[string]Classification{}
	for _, l := range b.Lines {
		out[l.Project.Name] = l.Class
	}
	return out
}

func TestSendUnresolvableChannelIsFailed(t *testing.T) {
	f := newFixture(t)
	f.partner(t, "acme", []string{"<@42>"}, "alpha", "beta")
	f.tx.known["acme/beta"] = false

	res, err := f.svc.Send(context.Background(), `send -p "acme" | Hello`)
	require.NoError(t, err)

	b := block(t, res.Report, "acme")
	assert.Equal(t, PartnerProcessed, b.State)
	assert.Equal(t, map[string]Classification{"alpha": Sent, "beta": Failed}, classes(b))

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "alpha", recs[0].ProjectName)
	assert.Equal(t, domain.StatusRequested, recs[0].Status)
	assert.Equal(t, res.BatchID, recs[0].BatchID)
	assert.Equal(t, "Hello", recs[0].Content)

	assert.Equal(t, []string{"Dear <@42>,\n\nHello"}, f.tx.sent["acme/alpha"])
}

func TestSendAllPartners(t *testing.T) {
	f := newFixture(t)
	f.partner(t, "acme", nil, "alpha")
	f.partner(t, "globex", nil, "web")

	res, err := f.svc.Send(context.Background(), `send -p "-all" | Ping`)
	require.NoError(t, err)
	assert.Len(t, f.records(t), 2)
	require.Len(t, res.Report.Blocks, 2)
	for _, b := range res.Report.Blocks {
		require.Len(t, b.Lines, 1)
		assert.Equal(t, Sent, b.Lines[0].Class)
	}
}

func TestSendIsolatesTransportFailure(t *testing.T) {
	f := newFixture(t)
	f.partner(t, "acme", nil, "alpha", "beta")
	f.tx.failSend["acme/alpha"] = true

	res, err := f.svc.Send(context.Background(), `send -p acme | hi`)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Sent)
	assert.Equal(t, 1, res.Report.Failed)

	var te *domain.TransportError
	for _, o := range res.Outcomes {
		if o.Project.Name == "alpha" {
			assert.True(t, errors.As(o.Err, &te))
		}
	}

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "beta", recs[0].ProjectName)
}

func TestReportCoversEveryPartnerAndProject(t *testing.T) {
	f := newFixture(t)
	f.partner(t, "acme", nil, "alpha", "beta", "gamma")
	f.partner(t, "globex", nil, "web", "app")
	f.partner(t, "empty", nil)

	res, err := f.svc.Send(context.Background(), `send -p acme -c alpha -p empty | hi`)
	require.NoError(t, err)

	acme := block(t, res.Report, "acme")
	assert.Equal(t, map[string]Classification{"alpha": Sent, "beta": NotAddressed, "gamma": NotAddressed}, classes(acme))

	globex := block(t, res.Report, "globex")
	assert.Equal(t, PartnerNotIncluded, globex.State)

	empty := block(t, res.Report, "empty")
	assert.Equal(t, PartnerNoProjects, empty.State)

	out := res.Report.Render()
	assert.True(t, strings.HasPrefix(out, "**Send Report:**"))
	assert.Contains(t, out, "- acme:\n    • alpha: The request has been sent to this project.")
	assert.Contains(t, out, "    • beta: This project didn't get the request.")
	assert.Contains(t, out, "- globex: This partner was not included in the send request.")
	assert.Contains(t, out, "- empty: No projects were processed for this partner.")
}

func TestSendNoticesAndNoTargets(t *testing.T) {
	f := newFixture(t)
	f.partner(t, "acme", nil, "alpha")

	res, err := f.svc.Send(context.Background(), `send -p ghost -p acme -c zzz | hi`)
	assert.ErrorIs(t, err, domain.ErrNoTargets)
	require.Len(t, res.Plan.Notices, 2)
	assert.Equal(t, domain.KindPartner, res.Plan.Notices[0].Kind)
	assert.Equal(t, "ghost", res.Plan.Notices[0].Key)
	assert.Equal(t, domain.KindChannel, res.Plan.Notices[1].Kind)
	assert.Empty(t, f.records(t))
}

func TestSendAllFailed(t *testing.T) {
	f := newFixture(t)
	f.partner(t, "acme", nil, "alpha")
	f.tx.known["acme/alpha"] = false

	res, err := f.svc.Send(context.Background(), `send -p acme | hi`)
	assert.ErrorIs(t, err, domain.ErrAllFailed)
	assert.Equal(t, 1, res.Report.Failed)
	assert.Empty(t, f.records(t))
}

func TestSendRejectsBadContentBeforeResolving(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Send(context.Background(), `send -p ghost |   `)
	assert.ErrorIs(t, err, domain.ErrEmptyContent)
}

func TestOverlappingSelectorsDispatchTwice(t *testing.T) {
	f := newFixture(t)
	f.partner(t, "acme", nil, "alpha")

	res, err := f.svc.Send(context.Background(), `send -p acme -p acme -c alpha | hi`)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Report.Sent)
	assert.Len(t, f.records(t), 2)
	assert.Len(t, f.tx.sent["acme/alpha"], 2)
}

func TestMatchPrefixComparesSixFoldedRunes(t *testing.T) {
	projects := []domain.Project{
		{ID: 1, Name: "Alpha-Web"},
		{ID: 2, Name: "alpha-api"},
		{ID: 3, Name: "alphabet"},
		{ID: 4, Name: "ÉCOLE-1"},
	}
	got := matchPrefix(projects, "ALPHA-whatever")
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(2), got[1].ID)

	got = matchPrefix(projects, "école-2")
	require.Len(t, got, 1)
	assert.Equal(t, int64(4), got[0].ID)

	assert.Empty(t, matchPrefix(projects, "beta"))
}

func TestTagLine(t *testing.T) {
	cases := []struct {
		name string
		p    domain.Partner
		want string
	}{
		{"mention", domain.Partner{Name: "acme", Tags: []string{"<@123>"}}, "Dear <@123>,"},
		{"numeric id", domain.Partner{Name: "acme", Tags: []string{"123"}}, "Dear <@123>,"},
		{"username", domain.Partner{Name: "acme", Tags: []string{"@bob", "<@1>"}}, "Dear @bob,"},
		{"no tags", domain.Partner{Name: "Acme Corp"}, "Dear @acme_corp,"},
		{"nothing", domain.Partner{}, "Dear @everyone,"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TagLine(tc.p))
		})
	}
}

func TestSendPublishesEvents(t *testing.T) {
	f := newFixture(t)
	bus := eventbus.New()
	f.svc = New(f.st, f.tx, bus, Options{}, logx.Nop())
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	f.partner(t, "acme", nil, "alpha", "beta")
	f.tx.failSend["acme/beta"] = true

	_, err := f.svc.Send(context.Background(), `send -p acme | hi`)
	require.NoError(t, err)

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []string{eventbus.TypeTargetFailed, eventbus.TypeDispatchCompleted}, types)
}

// brokenLedger sends through the real store but can never record a delivery.
type brokenLedger struct {
	*storage.Store
}

func (brokenLedger) InsertDelivery(context.Context, domain.DeliveryRecord) (int64, error) {
	return 0, errors.New("disk I/O error")
}

func TestLedgerFailureAfterSendCountsAsFailed(t *testing.T) {
	f := newFixture(t)
	bus := eventbus.New()
	f.svc = New(brokenLedger{f.st}, f.tx, bus, Options{}, logx.Nop())
	ch, unsub := bus.Subscribe(8, eventbus.TypeTargetFailed)
	defer unsub()
	f.partner(t, "acme", nil, "alpha")

	res, err := f.svc.Send(context.Background(), `send -p acme | Hello`)
	assert.ErrorIs(t, err, domain.ErrAllFailed)
	assert.Equal(t, 0, res.Report.Sent)
	assert.Equal(t, 1, res.Report.Failed)
	assert.Equal(t, map[string]Classification{"alpha": Failed}, classes(block(t, res.Report, "acme")))
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, "msg-1", res.Outcomes[0].MessageID, "the message did go out")
	assert.Contains(t, res.Outcomes[0].Err.Error(), "disk I/O error")

	assert.Len(t, f.tx.sent["acme/alpha"], 1)
	assert.Empty(t, f.records(t))
	require.Len(t, ch, 1)
	assert.Equal(t, "alpha", (<-ch).Data.(eventbus.TargetFailed).Project)
}

func TestComposedMessageOverPlatformLimitIsNotSplit(t *testing.T) {
	f := newFixture(t)
	f.svc = New(f.st, f.tx, eventbus.New(), Options{TextLimit: 60}, logx.Nop())
	f.partner(t, "acme", nil, "alpha")
	f.partner(t, "bigcorp", []string{"@averylongpartnerhandlename"}, "beta")

	// The body fits both directives, but bigcorp's tag line pushes its copy
	// over the cap.
	body := strings.Repeat("x", 30)
	res, err := f.svc.Send(context.Background(), `send -p acme -p bigcorp | `+body)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Sent)
	assert.Equal(t, 1, res.Report.Failed)
	assert.Equal(t, map[string]Classification{"alpha": Sent}, classes(block(t, res.Report, "acme")))
	assert.Equal(t, map[string]Classification{"beta": Failed}, classes(block(t, res.Report, "bigcorp")))

	var failed Outcome
	for _, o := range res.Outcomes {
		if !o.OK() {
			failed = o
		}
	}
	assert.ErrorIs(t, failed.Err, domain.ErrContentTooLong)
	assert.Empty(t, f.tx.sent["bigcorp/beta"], "nothing goes out in pieces")
	assert.Len(t, f.records(t), 1)
}

type cappedTransport struct {
	*fakeTransport
}

func (cappedTransport) TextLimit() int { return 10 }

func TestDispatcherTakesLimitFromTransport(t *testing.T) {
	tx := cappedTransport{newFakeTransport()}
	tx.known["c1"] = true
	d := NewDispatcher(tx, nil, DispatcherOptions{}, logx.Nop())

	out := d.Dispatch(context.Background(), "b1", "a body longer than ten", []Target{{
		Partner: domain.Partner{Name: "acme"},
		Project: domain.Project{Name: "alpha", ChannelID: "c1"},
	}})
	require.Len(t, out, 1)
	assert.ErrorIs(t, out[0].Err, domain.ErrContentTooLong)
	assert.Empty(t, tx.sent)
}

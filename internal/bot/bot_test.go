package bot

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

	"dispatchbot/internal/dispatch"
	"dispatchbot/internal/domain"
	"dispatchbot/internal/eventbus"
	"dispatchbot/internal/registry"
	"dispatchbot/internal/router"
	"dispatchbot/internal/storage"
	"dispatchbot/internal/tracking"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

const opsChannel = "ops"

type fakeAdapter struct {
	mu      sync.Mutex
	servers map[string][]kit.Channel
	seq     int
	sent    map[string][]string
	lastID  map[string]string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		servers: map[string][]kit.Channel{
			"g1": {
				{ID: "c1", Name: "alpha", ServerID: "g1", Sendable: true},
				{ID: "c2", Name: "beta", ServerID: "g1", Sendable: true},
			},
		},
		sent:   map[string][]string{},
		lastID: map[string]string{},
	}
}

func (f *fakeAdapter) Name() string                                    { return "fake" }
func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) SelfID() string                                  { return "bot" }

func (f *fakeAdapter) SendText(_ context.Context, channelID, text string) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("m%d", f.seq)
	f.sent[channelID] = append(f.sent[channelID], text)
	f.lastID[channelID] = id
	return kit.MessageRef{ChannelID: channelID, MessageID: id}, nil
}

func (f *fakeAdapter) LocateChannel(_ context.Context, channelID string) (kit.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, chans := range f.servers {
		for _, c := range chans {
			if c.ID == channelID {
				return c, nil
			}
		}
	}
	return kit.Channel{}, domain.NotFound(domain.KindChannel, channelID)
}

func (f *fakeAdapter) ServerChannels(_ context.Context, serverID string) ([]kit.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers[serverID], nil
}

// replies drains what the handlers posted to the operator channel.
func (f *fakeAdapter) replies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent[opsChannel]
	f.sent[opsChannel] = nil
	return out
}

type env struct {
	h  *Handlers
	ad *fakeAdapter
	st *storage.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ad := newFakeAdapter()
	bus := eventbus.New()
	h := New(
		dispatch.New(st, ad, bus, dispatch.Options{Parallel: 2}, logx.Nop()),
		tracking.New(st, bus, logx.Nop()),
		registry.New(st, ad, bus, logx.Nop()),
		logx.Nop(),
	)
	return &env{h: h, ad: ad, st: st}
}

// request builds what the router would hand to a handler.
func (e *env) request(verb string, args []string, flags map[string]string, rawText string) *router.Request {
	if flags == nil {
		flags = map[string]string{}
	}
	return &router.Request{
		Message: &kit.Message{
			ID:         "in-1",
			ChannelID:  opsChannel,
			ServerID:   "g1",
			AuthorID:   "op",
			AuthorName: "operator",
			Text:       "!" + rawText,
		},
		Command:   verb,
		Args:      args,
		Flags:     flags,
		BoolFlags: map[string]bool{},
		RawText:   rawText,
		Prefix:    router.DefaultPrefix,
		Adapter:   e.ad,
		Logger:    logx.Nop(),
	}
}

func (e *env) addAcme(t *testing.T) {
	t.Helper()
	req := e.request("add_partner", []string{"Acme Corp", "g1", "<@42>", "+05:30"}, nil, "")
	require.NoError(t, e.h.addPartner(context.Background(), req))
	out := e.ad.replies()
	require.Len(t, out, 1)
	require.Contains(t, out[0], "Partner **acme_corp** added successfully!")
}

func TestAddPartnerWithTimezone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	req := e.request("add_partner", []string{"Acme Corp", "g1", "<@42>", "<@43>", "+05:30"}, nil, "")
	require.NoError(t, e.h.addPartner(ctx, req))
	out := e.ad.replies()
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "• **Users:** <@42>, <@43>")
	assert.Contains(t, out[0], "• **Timezone:** +05:30")
	assert.Contains(t, out[0], "• **Projects:** 2 channels")

	require.NoError(t, e.h.addPartner(ctx, req))
	assert.Equal(t, []string{"❌ Partner **acme_corp** already exists in this server."}, e.ad.replies())

	require.NoError(t, e.h.listPartners(ctx, e.request("list_partners", nil, nil, "")))
	out = e.ad.replies()
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "**📋 acme_corp**")
	assert.Contains(t, out[0], "• Projects: 2")
}

func TestAddPartnerUsage(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.h.addPartner(context.Background(), e.request("add_partner", []string{"x"}, nil, "")))
	out := e.ad.replies()
	require.Len(t, out, 1)
	assert.True(t, strings.HasPrefix(out[0], "❌ Invalid syntax! Use: !add_partner"), out[0])
}

func TestSendThenReply(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.addAcme(t)

	raw := `send -p "acme_corp" -c alpha | Please build v2`
	require.NoError(t, e.h.send(ctx, e.request("send", nil, nil, raw)))
	out := e.ad.replies()
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "**Send Report:**")
	assert.Contains(t, out[0], "• alpha: The request has been sent to this project.")
	assert.Contains(t, out[0], "• beta: This project didn't get the request.")
	assert.Contains(t, out[0], ": 1 sent, 0 failed.")
	require.Len(t, e.ad.sent["c1"], 1)
	assert.Equal(t, "Dear <@42>,\n\nPlease build v2", e.ad.sent["c1"][0])

	reply := func(text string) *router.Request {
		req := e.request("", nil, nil, text)
		req.Message.ChannelID = opsChannel
		req.Message.ReplyTo = &kit.ReplyRef{MessageID: e.ad.lastID["c1"], AuthorID: "bot"}
		return req
	}

	require.NoError(t, e.h.HandleReply(ctx, reply("order_received | on it")))
	out = e.ad.replies()
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "✅ **Status Updated Successfully!**")
	assert.Contains(t, out[0], "**Status progression:** requested → order_received")

	require.NoError(t, e.h.HandleReply(ctx, reply("order_received | again")))
	out = e.ad.replies()
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "❌ **Invalid status progression!**")
	assert.Contains(t, out[0], "Current status: **order_received**")

	require.NoError(t, e.h.HandleReply(ctx, reply("just chatting")))
	assert.Equal(t, []string{wrongReplyFormat}, e.ad.replies())
}

func TestReplyToForeignMessage(t *testing.T) {
	e := newEnv(t)
	req := e.request("", nil, nil, "order_received | hi")
	req.Message.ReplyTo = &kit.ReplyRef{MessageID: "nope", AuthorID: "bot"}
	require.NoError(t, e.h.HandleReply(context.Background(), req))
	out := e.ad.replies()
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "Message not found in database!")
}

func TestSendNoticesComeBeforeReport(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.addAcme(t)

	raw := `send -p ghost -p acme_corp -c zzz -c beta | hi`
	require.NoError(t, e.h.send(ctx, e.request("send", nil, nil, raw)))
	out := e.ad.replies()
	require.Len(t, out, 3)
	assert.Equal(t, "❌ Partner not found: **ghost**", out[0])
	assert.Equal(t, "❌ Channel **zzz** not found in partner **acme_corp**", out[1])
	assert.Contains(t, out[2], "**Send Report:**")
	assert.Contains(t, out[2], "• beta: The request has been sent to this project.")
}

func TestSendWithNoTargets(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.h.send(context.Background(), e.request("send", nil, nil, `send -p ghost | hi`)))
	out := e.ad.replies()
	require.Len(t, out, 2)
	assert.Equal(t, "❌ Partner not found: **ghost**", out[0])
	assert.True(t, strings.HasPrefix(out[1], "❌ "), out[1])
}

func TestSendBadSyntax(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.h.send(context.Background(), e.request("send", nil, nil, `send -p acme`)))
	out := e.ad.replies()
	require.Len(t, out, 1)
	assert.True(t, strings.HasPrefix(out[0], "❌ Invalid syntax! "), out[0])
	assert.Contains(t, out[0], "Use: `!send -p <partner>")
}

func TestMessageStatusOverride(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.addAcme(t)

	require.NoError(t, e.h.messageStatus(ctx, e.request("message_status", []string{"acme_corp", "alpha", "pass_test"}, nil, "")))
	out := e.ad.replies()
	require.Len(t, out, 1)
	assert.Equal(t, "❌ No message found in project **alpha**", out[0])

	require.NoError(t, e.h.send(ctx, e.request("send", nil, nil, `send -p acme_corp -c alpha | hello`)))
	e.ad.replies()

	require.NoError(t, e.h.messageStatus(ctx, e.request("message_status", []string{"acme_corp", "alpha", "pass_test"}, nil, "")))
	out = e.ad.replies()
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "to **test_pass**")
	assert.NotContains(t, out[0], "moved backwards")

	require.NoError(t, e.h.messageStatus(ctx, e.request("message_status", []string{"acme_corp", "alpha", "order_received"}, nil, "")))
	out = e.ad.replies()
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "moved backwards (was **test_pass**)")
}

func TestListMessages(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.h.list(ctx, e.request("list", nil, nil, "")))
	assert.Equal(t, []string{"❌ No messages found in the system."}, e.ad.replies())

	e.addAcme(t)
	require.NoError(t, e.h.send(ctx, e.request("send", nil, nil, `send -p acme_corp | status check`)))
	e.ad.replies()

	req := e.request("list", nil, map[string]string{"p": "acme_corp"}, "")
	require.NoError(t, e.h.list(ctx, req))
	out := e.ad.replies()
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "**📋 Recent messages for acme_corp:**")
	assert.Contains(t, out[0], "acme_corp/alpha")
	assert.Contains(t, out[0], "acme_corp/beta")
	assert.Contains(t, out[0], "• status check")

	require.NoError(t, e.h.list(ctx, e.request("list", nil, map[string]string{"c": "alpha"}, "")))
	out = e.ad.replies()
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "Use: !list -p <partner> -c <project>")
}

func TestDescribe(t *testing.T) {
	cases := []struct {
		err  error
		text string
		user bool
	}{
		{domain.NotFound(domain.KindPartner, "ghost"), "❌ Partner not found: **ghost**", true},
		{&domain.NotFoundError{Kind: domain.KindChannel, Key: "web in acme"}, "❌ Channel **web** not found in partner **acme**", true},
		{&domain.SyntaxError{Msg: "missing '|'"}, "❌ Invalid syntax! Missing '|'", true},
		{&domain.ValidationError{Msg: "bad offset"}, "❌ Bad offset", true},
		{context.DeadlineExceeded, "❌ The command timed out.", false},
		{errors.New("disk full"), "❌ Error: disk full", false},
	}
	for _, c := range cases {
		text, user := describe(c.err)
		assert.Equal(t, c.text, text)
		assert.Equal(t, c.user, user, c.text)
	}

	_, user := describe(fmt.Errorf("send: %w", domain.ErrNoTargets))
	assert.True(t, user)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "héllo", preview("héllo", 5))
	assert.Equal(t, "hé...", preview("héllo", 2))
}

func TestCommandTableIsComplete(t *testing.T) {
	e := newEnv(t)
	names := map[string]router.Command{}
	for _, c := range e.h.Commands() {
		names[c.Name] = c
		assert.NotNil(t, c.Handle, c.Name)
	}
	for _, want := range []string{
		"send", "message_status", "reply_rules", "list",
		"add_partner", "list_partners", "info_partner", "set_timezone", "delete_partner", "update_user",
		"list_projects", "info_project", "delete_project", "update_projects",
	} {
		assert.Contains(t, names, want)
	}
	assert.Equal(t, router.AccessEveryone, names["reply_rules"].Access)
	assert.Equal(t, router.AccessOperator, names["send"].Access)
}

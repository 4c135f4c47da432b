package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

type sent struct {
	channel string
	text    string
}

type fakeAdapter struct {
	self string
	out  chan sent
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{self: "bot", out: make(chan sent, 16)} }

func (f *fakeAdapter) Name() string                                  { return "fake" }
func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                    { return nil }
func (f *fakeAdapter) SelfID() string                                { return f.self }
func (f *fakeAdapter) SendText(_ context.Context, ch, text string) (kit.MessageRef, error) {
	f.out <- sent{channel: ch, text: text}
	return kit.MessageRef{ChannelID: ch, MessageID: "m"}, nil
}
func (f *fakeAdapter) LocateChannel(context.Context, string) (kit.Channel, error) {
	return kit.Channel{}, errors.New("unused")
}
func (f *fakeAdapter) ServerChannels(context.Context, string) ([]kit.Channel, error) {
	return nil, errors.New("unused")
}

func (f *fakeAdapter) next(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-f.out:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent")
		return sent{}
	}
}

func (f *fakeAdapter) quiet(t *testing.T) {
	t.Helper()
	select {
	case s := <-f.out:
		t.Fatalf("unexpected message %q", s.text)
	case <-time.After(50 * time.Millisecond):
	}
}

func startRouter(t *testing.T, r *Router) chan<- kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func msg(author, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: "1", ChannelID: "c", AuthorID: author, Text: text}}
}

func TestParseArgs(t *testing.T) {
	pos, flags, bools := parseArgs([]string{"-p", "acme", "-c", "alp", "-all", "x", "-05:00", "--k=v"}, []string{"all"})
	assert.Equal(t, []string{"x", "-05:00"}, pos)
	assert.Equal(t, map[string]string{"p": "acme", "c": "alp", "k": "v"}, flags)
	assert.Equal(t, map[string]bool{"all": true}, bools)

	_, flags, bools = parseArgs([]string{"-p"}, nil)
	assert.Empty(t, flags)
	assert.True(t, bools["p"])
}

func TestSplitVerb(t *testing.T) {
	v, rest := splitVerb("  send   -p a | hi ")
	assert.Equal(t, "send", v)
	assert.Equal(t, "-p a | hi", rest)

	v, rest = splitVerb("help")
	assert.Equal(t, "help", v)
	assert.Empty(t, rest)
}

func TestRouteCommandWithArgs(t *testing.T) {
	ad := newFakeAdapter()
	r := New(logx.Nop(), ad, nil, Options{})
	var mu sync.Mutex
	var got *Request
	r.SetCommands([]Command{{
		Name:     "list",
		Switches: []string{"all"},
		Handle: func(ctx context.Context, req *Request) error {
			mu.Lock()
			got = req
			mu.Unlock()
			return req.Reply(ctx, "ok")
		},
	}})
	up := startRouter(t, r)

	up <- msg("u1", "!LIST -p \"Acme Corp\" -all")
	assert.Equal(t, "ok", ad.next(t).text)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, "list", got.Command)
	assert.Equal(t, "Acme Corp", got.Flag("p"))
	assert.True(t, got.Switch("all"))
	assert.NotEmpty(t, got.ReqID)
}

func TestPipeContentIsNotParsed(t *testing.T) {
	ad := newFakeAdapter()
	r := New(logx.Nop(), ad, nil, Options{})
	r.SetCommands([]Command{{
		Name: "send",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, req.RawText+"#"+req.Flag("p")+"#"+req.Flag("x"))
		},
	}})
	up := startRouter(t, r)

	up <- msg("u1", "!send -p acme | body -x \"unbalanced")
	assert.Equal(t, "send -p acme | body -x \"unbalanced#acme#", ad.next(t).text)
}

func TestOperatorAccess(t *testing.T) {
	ad := newFakeAdapter()
	r := New(logx.Nop(), ad, nil, Options{Operators: []string{"op"}})
	r.SetCommands([]Command{{
		Name:   "delete_partner",
		Access: AccessOperator,
		Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "done") },
	}})
	up := startRouter(t, r)

	up <- msg("stranger", "!delete_partner acme")
	assert.Contains(t, ad.next(t).text, "not allowed")

	up <- msg("op", "!delete_partner acme")
	assert.Equal(t, "done", ad.next(t).text)

	r.SetAccess("?", nil)
	up <- msg("stranger", "?delete_partner acme")
	assert.Equal(t, "done", ad.next(t).text)
}

func TestRepliesToBotSkipCommands(t *testing.T) {
	ad := newFakeAdapter()
	r := New(logx.Nop(), ad, nil, Options{})
	r.SetCommands([]Command{{
		Name:   "send",
		Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "command") },
	}})
	r.OnReply(func(ctx context.Context, req *Request) error {
		return req.Reply(ctx, "reply:"+req.RawText+":"+req.Message.ReplyTo.MessageID)
	}, time.Second)
	up := startRouter(t, r)

	u := msg("partner", "!send looks like a command")
	u.Message.ReplyTo = &kit.ReplyRef{MessageID: "orig", AuthorID: "bot"}
	up <- u
	assert.Equal(t, "reply:!send looks like a command:orig", ad.next(t).text)

	// A reply to someone else is routed normally.
	u = msg("partner", "!send x")
	u.Message.ReplyTo = &kit.ReplyRef{MessageID: "orig", AuthorID: "human"}
	up <- u
	assert.Equal(t, "command", ad.next(t).text)
}

func TestIgnoresOwnAndUnprefixedMessages(t *testing.T) {
	ad := newFakeAdapter()
	r := New(logx.Nop(), ad, nil, Options{})
	r.SetCommands([]Command{{
		Name:   "send",
		Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "command") },
	}})
	up := startRouter(t, r)

	up <- msg("bot", "!send x")
	up <- msg("u1", "hello there")
	ad.quiet(t)

	up <- msg("u1", "!nope")
	assert.Contains(t, ad.next(t).text, "Unknown command `!nope`")
}

func TestHelp(t *testing.T) {
	ad := newFakeAdapter()
	r := New(logx.Nop(), ad, nil, Options{})
	r.SetCommands([]Command{
		{Name: "list", Description: "recent messages", Usage: "list [-p <partner>]", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "update_user", Aliases: []string{"update_discord_user"}, Access: AccessOperator, Handle: func(context.Context, *Request) error { return nil }},
	})

	top := r.helpText(nil)
	assert.Contains(t, top, "`!list`: recent messages")
	assert.Contains(t, top, "`!update_user` (operator)")
	assert.Less(t, strings.Index(top, "!list"), strings.Index(top, "!update_user"))

	one := r.helpText([]string{"update_discord_user"})
	assert.Contains(t, one, "**!update_user**")
	assert.Contains(t, one, "Operators only")

	assert.Contains(t, r.helpText([]string{"!list"}), "Usage: `!list [-p <partner>]`")
}

func TestPanicIsRecovered(t *testing.T) {
	h := Chain(func(context.Context, *Request) error { panic("x") }, MWPanicRecover(logx.Nop()), MWRequestLog(logx.Nop()))
	err := h(context.Background(), &Request{Command: "boom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

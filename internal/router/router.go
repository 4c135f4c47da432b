// Package router turns chat messages into command requests: prefix and verb
// lookup, operator access, a reply hook for answers to the bot's own
// messages, and a bounded worker pool that runs handlers behind middleware.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"dispatchbot/internal/directive"
	"dispatchbot/internal/runtime/supervisor"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

const DefaultPrefix = "!"

type Options struct {
	Prefix    string
	Operators []string
	// Workers defaults to NumCPU (at least 2).
	Workers   int
	QueueSize int
	// Timeout applies to commands that set none of their own.
	Timeout time.Duration
}

type Router struct {
	mu        sync.RWMutex
	prefix    string
	operators []string
	cmds      map[string]*Command
	alias     map[string]*Command
	onReply   *Command

	log     logx.Logger
	adapter kit.Adapter
	sups    *supervisor.Registry
	workers int
	timeout time.Duration

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, sups *supervisor.Registry, opts Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Workers < 2 {
		opts.Workers = 2
	}
	return &Router{
		prefix:    opts.Prefix,
		operators: append([]string(nil), opts.Operators...),
		cmds:      map[string]*Command{},
		alias:     map[string]*Command{},
		log:       log,
		adapter:   adapter,
		sups:      sups,
		workers:   opts.Workers,
		timeout:   opts.Timeout,
		jobs:      make(chan func(), opts.QueueSize),
	}
}

func (m *Router) Prefix() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefix
}

// SetAccess updates prefix and operator ids. Safe to call during hot-reload.
func (m *Router) SetAccess(prefix string, operators []string) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	ops := append([]string(nil), operators...)
	m.mu.Lock()
	m.prefix = prefix
	m.operators = ops
	m.mu.Unlock()
}

func (m *Router) isOperator(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.operators) == 0 {
		return true
	}
	for _, o := range m.operators {
		if o == id {
			return true
		}
	}
	return false
}

// SetCommands replaces the command table. A help command is always added.
func (m *Router) SetCommands(cmds []Command) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show commands or the usage of one command",
		Usage:       "help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	}
	cmds = append(cmds, helper)

	table := make(map[string]*Command, len(cmds))
	alias := map[string]*Command{}
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || strings.ContainsAny(name, " \t") || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		table[name] = &cc
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = &cc
		}
	}

	m.mu.Lock()
	m.cmds = table
	m.alias = alias
	m.mu.Unlock()
}

// OnReply installs the handler for replies to the bot's own messages.
func (m *Router) OnReply(h HandlerFunc, timeout time.Duration) {
	m.mu.Lock()
	m.onReply = &Command{Name: "reply", Timeout: timeout, Handle: h}
	m.mu.Unlock()
}

func (m *Router) lookup(verb string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[verb]; ok {
		return c, true
	}
	c, ok := m.alias[verb]
	return c, ok
}

func (m *Router) setSupervisor(sup *supervisor.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// Run consumes updates until ctx is done or the channel closes.
func (m *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(m.log.With(logx.String("comp", "router"))),
		supervisor.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.sups.Set("router", sup)

	m.log.Info("command router started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		// Let queued jobs drain briefly.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.sups.Delete("router")
		m.setSupervisor(nil, false)
		m.log.Info("command router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage {
				m.routeMessage(ctx, up.Message)
			}
		}
	}
}

func (m *Router) routeMessage(root context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	self := m.adapter.SelfID()
	if self != "" && msg.AuthorID == self {
		return
	}

	m.mu.RLock()
	prefix := m.prefix
	onReply := m.onReply
	m.mu.RUnlock()

	// Answers to the bot's own messages are status replies, never commands.
	if msg.ReplyTo != nil && self != "" && msg.ReplyTo.AuthorID == self {
		if onReply != nil {
			m.enqueue(root, msg, *onReply, prefix, strings.TrimSpace(msg.Text), nil, nil, nil, nil)
		}
		return
	}

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, prefix) {
		return
	}
	body := strings.TrimSpace(strings.TrimPrefix(text, prefix))
	verb, rest := splitVerb(body)
	if verb == "" {
		return
	}
	cmd, ok := m.lookup(strings.ToLower(verb))
	if !ok {
		_, _ = m.adapter.SendText(root, msg.ChannelID, "Unknown command `"+prefix+verb+"`. Type `"+prefix+"help` for the list.")
		return
	}
	if cmd.Access == AccessOperator && !m.isOperator(msg.AuthorID) {
		_, _ = m.adapter.SendText(root, msg.ChannelID, "You are not allowed to use `"+prefix+cmd.Name+"`.")
		return
	}

	// Content after '|' is free text and never parsed as arguments.
	head := rest
	if i := strings.IndexByte(rest, '|'); i >= 0 {
		head = rest[:i]
	}
	raw := directive.Tokenize(head)
	pos, flags, bools := parseArgs(raw, cmd.Switches)
	m.enqueue(root, msg, *cmd, prefix, body, pos, raw, flags, bools)
}

func (m *Router) enqueue(root context.Context, msg *kit.Message, cmd Command, prefix, rawText string, args, raw []string, flags map[string]string, bools map[string]bool) {
	rid := newReqID()
	req := &Request{
		Message:   msg,
		Command:   cmd.Name,
		Args:      args,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		RawText:   rawText,
		Prefix:    prefix,
		ReqID:     rid,
		Adapter:   m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("channel_id", msg.ChannelID),
			logx.String("author_id", msg.AuthorID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.timeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWTrace(),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, msg.ChannelID, "The bot is busy, try again in a moment.")
	}
}

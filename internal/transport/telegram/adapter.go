package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"dispatchbot/internal/domain"
	rtsup "dispatchbot/internal/runtime/supervisor"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

// textLimit stays under Telegram's 4096 hard cap.
const textLimit = 4000

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter talks to Telegram through long polling. Chats play the role of
// channels; Telegram has no server-wide channel listing.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	dropped atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.bot.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) SelfID() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return strconv.FormatInt(a.bot.Me.ID, 10)
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{
		ID:        externalID(m.Chat.ID, m.ID),
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		Text:      m.Text,
	}
	if m.Chat.Type != tele.ChatPrivate {
		msg.ServerID = msg.ChannelID
	}
	if m.Sender != nil {
		msg.AuthorID = strconv.FormatInt(m.Sender.ID, 10)
		msg.AuthorName = m.Sender.Username
		msg.FromBot = m.Sender.IsBot
	}
	if m.ReplyTo != nil {
		ref := &kit.ReplyRef{MessageID: externalID(m.Chat.ID, m.ReplyTo.ID)}
		if m.ReplyTo.Sender != nil {
			ref.AuthorID = strconv.FormatInt(m.ReplyTo.Sender.ID, 10)
		}
		msg.ReplyTo = ref
	}
	a.emit(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	return nil
}

func (a *Adapter) emit(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(chanCap int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", chanCap))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	// Long polling may still be parked in getUpdates; don't hold shutdown for it.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) TextLimit() int { return textLimit }

func (a *Adapter) SendText(ctx context.Context, channelID, text string) (kit.MessageRef, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return kit.MessageRef{}, fmt.Errorf("telegram chat id %q: %w", channelID, err)
	}
	chat := &tele.Chat{ID: chatID}

	var first kit.MessageRef
	for i, chunk := range kit.SplitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		m, err := a.bot.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChannelID: channelID, MessageID: externalID(chatID, m.ID)}
		}
	}
	return first, nil
}

func (a *Adapter) LocateChannel(ctx context.Context, channelID string) (kit.Channel, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return kit.Channel{}, domain.NotFound(domain.KindChannel, channelID)
	}
	if err := ctx.Err(); err != nil {
		return kit.Channel{}, err
	}
	chat, err := a.bot.ChatByID(chatID)
	if err != nil || chat == nil {
		return kit.Channel{}, domain.NotFound(domain.KindChannel, channelID)
	}
	return kit.Channel{
		ID:       channelID,
		Name:     chat.Title,
		ServerID: channelID,
		Sendable: true,
	}, nil
}

func (a *Adapter) ServerChannels(context.Context, string) ([]kit.Channel, error) {
	return nil, domain.ErrUnsupported
}

// externalID makes Telegram message ids globally unique; they are only
// unique per chat.
func externalID(chatID int64, msgID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(msgID)
}

package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"dispatchbot/internal/domain"
	rtsup "dispatchbot/internal/runtime/supervisor"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

// textLimit is Discord's per-message character cap.
const textLimit = 2000

type Config struct {
	Token string
}

// Adapter is a gateway connection to Discord. One connection may belong to
// many guilds; channel ids are global across them.
type Adapter struct {
	cfg Config
	log logx.Logger

	s *discordgo.Session

	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	removeH []func()

	dropped atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent
	s.StateEnabled = true

	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, s: s}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a, nil
}

func (a *Adapter) Name() string { return "discord" }

func (a *Adapter) SelfID() string {
	if a.s.State == nil || a.s.State.User == nil {
		return ""
	}
	return a.s.State.User.ID
}

func (a *Adapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.log.Info("connected", logx.String("user", r.User.Username), logx.Int("guilds", len(r.Guilds)))
}

func (a *Adapter) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil {
		return
	}
	a.emit(kit.Update{Kind: kit.UpdateMessage, Message: convertMessage(m.Message)})
}

func convertMessage(m *discordgo.Message) *kit.Message {
	msg := &kit.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		ServerID:  m.GuildID,
		Text:      m.Content,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
		msg.FromBot = m.Author.Bot
	}
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		ref := &kit.ReplyRef{MessageID: m.MessageReference.MessageID}
		if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
			ref.AuthorID = m.ReferencedMessage.Author.ID
		}
		msg.ReplyTo = ref
	}
	return msg
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
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.out.Store(out)
	a.removeH = append(a.removeH,
		a.s.AddHandler(a.onReady),
		a.s.AddHandler(a.onMessage),
	)
	if err := a.s.Open(); err != nil {
		for _, rm := range a.removeH {
			rm()
		}
		a.removeH = nil
		return err
	}
	a.running = true

	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "discord.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	a.sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				if n := a.dropped.Swap(0); n > 0 {
					a.log.Warn("incoming messages dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	removers := a.removeH
	a.removeH = nil
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	for _, rm := range removers {
		rm()
	}
	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
	return a.s.Close()
}

func (a *Adapter) TextLimit() int { return textLimit }

func (a *Adapter) SendText(ctx context.Context, channelID, text string) (kit.MessageRef, error) {
	var first kit.MessageRef
	for i, chunk := range kit.SplitText(text, textLimit) {
		m, err := a.s.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChannelID: channelID, MessageID: m.ID}
		}
	}
	return first, nil
}

// LocateChannel walks the cached guild list rather than asking the API, so a
// channel in a guild the bot has left is reported as missing.
func (a *Adapter) LocateChannel(ctx context.Context, channelID string) (kit.Channel, error) {
	if err := ctx.Err(); err != nil {
		return kit.Channel{}, err
	}
	st := a.s.State
	st.RLock()
	defer st.RUnlock()
	for _, g := range st.Guilds {
		for _, ch := range g.Channels {
			if ch.ID == channelID {
				return kit.Channel{ID: ch.ID, Name: ch.Name, ServerID: g.ID, Sendable: true}, nil
			}
		}
	}
	return kit.Channel{}, domain.NotFound(domain.KindChannel, channelID)
}

func (a *Adapter) ServerChannels(ctx context.Context, serverID string) ([]kit.Channel, error) {
	chans, err := a.s.GuildChannels(serverID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	self := a.SelfID()
	out := make([]kit.Channel, 0, len(chans))
	for _, ch := range chans {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		c := kit.Channel{ID: ch.ID, Name: ch.Name, ServerID: serverID}
		if self != "" {
			perms, err := a.s.State.UserChannelPermissions(self, ch.ID)
			if err == nil {
				c.Sendable = canPost(perms)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func canPost(perms int64) bool {
	const need = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages
	return perms&discordgo.PermissionAdministrator != 0 || perms&need == need
}

package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound chat message. Ids are opaque platform strings.
type Message struct {
	ID         string
	ChannelID  string
	ServerID   string // empty for direct messages
	AuthorID   string
	AuthorName string
	FromBot    bool
	Text       string

	// ReplyTo is set when the message replies to another message.
	ReplyTo *ReplyRef
}

type ReplyRef struct {
	MessageID string
	AuthorID  string
}

// MessageRef identifies a message the adapter sent. MessageID is the
// correlation key stored on delivery records.
type MessageRef struct {
	ChannelID string
	MessageID string
}

type Channel struct {
	ID       string
	Name     string
	ServerID string
	// Sendable reports that the bot can view and post in the channel.
	Sendable bool
}

type Adapter interface {
	Name() string
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// SelfID is the bot's own user id once connected.
	SelfID() string

	// SendText posts text, splitting it at the platform limit. The returned
	// ref points at the first chunk only; callers that correlate replies must
	// keep text within TextLimit.
	SendText(ctx context.Context, channelID, text string) (MessageRef, error)

	// LocateChannel searches every server the connection belongs to.
	LocateChannel(ctx context.Context, channelID string) (Channel, error)

	// ServerChannels lists the text channels of one server. Platforms without
	// channel enumeration return domain.ErrUnsupported.
	ServerChannels(ctx context.Context, serverID string) ([]Channel, error)
}

// TextLimiter is implemented by adapters whose messages have a length cap, in
// runes. Longer text is split into several messages by SendText.
type TextLimiter interface {
	TextLimit() int
}

// TextLimitOf returns a's message cap, or 0 when a does not report one.
func TextLimitOf(a any) int {
	if tl, ok := a.(TextLimiter); ok {
		return tl.TextLimit()
	}
	return 0
}

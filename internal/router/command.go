package router

import (
	"context"
	"time"

	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessOperator limits a verb to the configured operator ids. With no
	// operators configured every user is treated as one.
	AccessOperator
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	// Switches are flags that never take a value, e.g. "all" for -all.
	Switches []string
	Timeout  time.Duration
	Handle   HandlerFunc
}

type Request struct {
	Message *kit.Message
	Command string

	// Args are the positional arguments after flags were taken out.
	Args      []string
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	// RawText is the message text after the prefix, verb included.
	RawText string
	Prefix  string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply posts text to the channel the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Message.ChannelID, text)
	return err
}

// Flag returns the value of -name, or "" when absent.
func (r *Request) Flag(name string) string {
	if r.Flags == nil {
		return ""
	}
	return r.Flags[name]
}

func (r *Request) Switch(name string) bool {
	return r.BoolFlags != nil && r.BoolFlags[name]
}

package bot

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"dispatchbot/internal/domain"
	"dispatchbot/internal/registry"
	"dispatchbot/internal/router"
	"dispatchbot/internal/tracking"
	logx "dispatchbot/pkg/logx"
)

const wrongReplyFormat = "❌ **Wrong reply format!**\n\n" +
	"Please use: `<status_tag> | <your message>`\n\n" +
	"**Valid status tags:**\n" +
	"• `order_received` - Order received\n" +
	"• `resend_build` - Build sent\n" +
	"• `pass_test` - Test passed\n" +
	"• `release_app` - App released\n\n" +
	"**Example:** `order_received | Order received, starting work`"

// HandleReply applies a partner's answer to one of the bot's messages.
func (h *Handlers) HandleReply(ctx context.Context, req *router.Request) error {
	ref := req.Message.ReplyTo
	if ref == nil {
		return nil
	}
	tr, err := h.tracking.HandleReply(ctx, ref.MessageID, req.RawText)
	if tr.Warning != nil {
		if rerr := req.Reply(ctx, "⚠️ More than one message found with this message id! Please check your data."); rerr != nil {
			req.Logger.Warn("reply failed", logx.Err(rerr))
		}
	}
	if err != nil {
		var se *domain.SyntaxError
		switch {
		case errors.As(err, &se):
			return req.Reply(ctx, wrongReplyFormat)
		case errors.Is(err, domain.ErrNotFound):
			return req.Reply(ctx, "❌ **Message not found in database!**\n\nThis message was not sent through the bot system.")
		}
		return h.fail(ctx, req, err)
	}

	return req.Reply(ctx, "✅ **Status Updated Successfully!**\n\n"+
		"**Project:** "+tr.Record.ProjectName+"\n"+
		"**Partner:** "+tr.Record.PartnerName+"\n"+
		"**Previous Status:** "+tr.From+"\n"+
		"**New Status:** "+tr.To.String()+"\n"+
		"**Your Reply:** "+tr.Reply+"\n\n"+
		"**Status progression:** "+tr.From+" → "+tr.To.String())
}

func (h *Handlers) messageStatus(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 3 {
		return h.fail(ctx, req, usage(req, "message_status <partner> <project> <status>"))
	}
	res, err := h.tracking.AdminSetStatus(ctx, tracking.AdminUpdate{
		Partner:   req.Args[0],
		Project:   req.Args[1],
		Status:    strings.Join(req.Args[2:], " "),
		ActorID:   req.Message.AuthorID,
		ActorName: req.Message.AuthorName,
		ChannelID: req.Message.ChannelID,
	})
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) && nf.Kind == domain.KindRecord {
			return req.Reply(ctx, "❌ No message found in project **"+req.Args[1]+"**")
		}
		return h.fail(ctx, req, err)
	}
	text := "✅ Successfully updated the status of the latest message in **" + res.Record.ProjectName + "** to **" + res.To.String() + "**"
	if res.Backward {
		text += "\n⚠️ The status moved backwards (was **" + res.From + "**)."
	}
	return req.Reply(ctx, text)
}

func (h *Handlers) replyRules(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, tracking.RulesText())
}

func (h *Handlers) list(ctx context.Context, req *router.Request) error {
	q := registry.ListQuery{Partner: req.Flag("p"), ProjectPrefix: req.Flag("c"), All: req.Switch("all")}
	if q.ProjectPrefix != "" && q.Partner == "" {
		return h.fail(ctx, req, usage(req, "list -p <partner> -c <project>"))
	}
	views, err := h.registry.ListMessages(ctx, q)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	if len(views) == 0 {
		return req.Reply(ctx, "❌ No messages found in the system.")
	}

	title := "**📋 Recent messages:**"
	switch {
	case q.Partner != "":
		title = "**📋 Recent messages for " + q.Partner + ":**"
	case q.All:
		title = "**📋 Recent messages (all):**"
	}
	var b strings.Builder
	b.WriteString(title + "\n")
	for _, v := range views {
		r := v.Record
		b.WriteString("\n**" + r.StatusText() + "** - " + r.PartnerName + "/" + r.ProjectName + "\n")
		b.WriteString("• " + preview(r.Content, 100) + "\n")
		b.WriteString("• " + v.LocalTime)
		if r.BatchID != "" {
			b.WriteString(" · batch `" + shortBatch(r.BatchID) + "`")
		}
		b.WriteString("\n")
	}
	return req.Reply(ctx, b.String())
}

// preview cuts s to n runes.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

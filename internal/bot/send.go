package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"dispatchbot/internal/dispatch"
	"dispatchbot/internal/domain"
	"dispatchbot/internal/router"
	logx "dispatchbot/pkg/logx"
)

func (h *Handlers) send(ctx context.Context, req *router.Request) error {
	res, err := h.dispatch.Send(ctx, req.RawText)

	// Lookup notices come first, then the report or the error.
	for _, n := range res.Plan.Notices {
		if rerr := req.Reply(ctx, noticeText(n)); rerr != nil {
			req.Logger.Warn("reply failed", logx.Err(rerr))
		}
	}
	if err != nil {
		var se *domain.SyntaxError
		if errors.As(err, &se) {
			return req.Reply(ctx, "❌ Invalid syntax! "+capitalize(strings.TrimPrefix(se.Error(), "syntax error: "))+
				"\nUse: `"+req.Prefix+"send -p <partner> -c <channel1> -c <channel2> | <content>`")
		}
		return h.fail(ctx, req, err)
	}
	return req.Reply(ctx, renderReport(res))
}

func noticeText(n *domain.NotFoundError) string {
	if n.Kind == domain.KindProject {
		return "❌ No projects found for partner **" + n.Key + "**"
	}
	return notFoundText(n)
}

func renderReport(res dispatch.Result) string {
	out := res.Report.Render()
	if res.BatchID != "" {
		out += "\n\nBatch `" + shortBatch(res.BatchID) + "`: " +
			strconv.Itoa(res.Report.Sent) + " sent, " + strconv.Itoa(res.Report.Failed) + " failed."
	}
	return out
}

func shortBatch(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

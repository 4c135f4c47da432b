// Package bot binds router requests to the dispatch, tracking and registry
// services and renders their results for chat.
package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"dispatchbot/internal/dispatch"
	"dispatchbot/internal/domain"
	"dispatchbot/internal/registry"
	"dispatchbot/internal/router"
	"dispatchbot/internal/tracking"
	logx "dispatchbot/pkg/logx"
)

type Handlers struct {
	dispatch *dispatch.Service
	tracking *tracking.Service
	registry *registry.Service
	log      logx.Logger
}

func New(d *dispatch.Service, t *tracking.Service, r *registry.Service, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{dispatch: d, tracking: t, registry: r, log: log}
}

// Commands returns the full verb table.
func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "send",
			Description: "send a message to partner projects and report per project",
			Usage:       `send -p <partner> [-c <channel>]... [-p ...] | <content>`,
			Access:      router.AccessOperator,
			Timeout:     2 * time.Minute,
			Handle:      h.send,
		},
		{
			Name:        "message_status",
			Description: "set the status of a project's latest message (no ordering check)",
			Usage:       "message_status <partner> <project> <status>",
			Access:      router.AccessOperator,
			Handle:      h.messageStatus,
		},
		{
			Name:        "reply_rules",
			Description: "show how partners reply to update a status",
			Usage:       "reply_rules",
			Handle:      h.replyRules,
		},
		{
			Name:        "list",
			Description: "recent messages and their status",
			Usage:       "list [-p <partner>] [-c <project>] [-all]",
			Access:      router.AccessOperator,
			Switches:    []string{"all"},
			Handle:      h.list,
		},
		{
			Name:        "add_partner",
			Description: "register a partner and seed its projects from this server's channels",
			Usage:       "add_partner <name> <server_id> <@user>... [timezone]",
			Access:      router.AccessOperator,
			Handle:      h.addPartner,
		},
		{
			Name:        "list_partners",
			Description: "list registered partners",
			Usage:       "list_partners",
			Access:      router.AccessOperator,
			Handle:      h.listPartners,
		},
		{
			Name:        "info_partner",
			Description: "partner details and message statistics",
			Usage:       "info_partner <name-or-user>",
			Access:      router.AccessOperator,
			Handle:      h.infoPartner,
		},
		{
			Name:        "set_timezone",
			Description: "set a partner's UTC offset",
			Usage:       "set_timezone <partner> <±HH:MM>",
			Access:      router.AccessOperator,
			Handle:      h.setTimezone,
		},
		{
			Name:        "delete_partner",
			Description: "delete a partner with its projects and messages",
			Usage:       "delete_partner <partner>",
			Access:      router.AccessOperator,
			Handle:      h.deletePartner,
		},
		{
			Name:        "update_user",
			Aliases:     []string{"update_discord_user"},
			Description: "replace one tagged user of a partner",
			Usage:       "update_user -p <partner> <old-user> <new-user>",
			Access:      router.AccessOperator,
			Handle:      h.updateUser,
		},
		{
			Name:        "list_projects",
			Description: "list projects, optionally for one partner",
			Usage:       "list_projects [-p <partner>]",
			Access:      router.AccessOperator,
			Handle:      h.listProjects,
		},
		{
			Name:        "info_project",
			Description: "project details and message statistics",
			Usage:       "info_project [-p <partner>] <project>",
			Access:      router.AccessOperator,
			Handle:      h.infoProject,
		},
		{
			Name:        "delete_project",
			Description: "delete a project and its messages",
			Usage:       "delete_project [-p <partner>] <project>",
			Access:      router.AccessOperator,
			Handle:      h.deleteProject,
		},
		{
			Name:        "update_projects",
			Description: "sync a partner's projects with its server channels",
			Usage:       "update_projects -p <partner>",
			Access:      router.AccessOperator,
			Timeout:     time.Minute,
			Handle:      h.updateProjects,
		},
	}
}

// fail reports err to the requester. User errors end the request cleanly;
// anything else is returned for the request log.
func (h *Handlers) fail(ctx context.Context, req *router.Request, err error) error {
	text, user := describe(err)
	if rerr := req.Reply(ctx, text); rerr != nil {
		req.Logger.Warn("reply failed", logx.Err(rerr))
	}
	if user {
		return nil
	}
	return err
}

// describe renders an error for chat. user is false for internal failures.
func describe(err error) (text string, user bool) {
	var (
		se  *domain.SyntaxError
		nf  *domain.NotFoundError
		ve  *domain.ValidationError
		rej *tracking.RejectedError
	)
	switch {
	case errors.As(err, &rej):
		return "❌ **Invalid status progression!**\n\n" +
			"Current status: **" + rej.Current.String() + "**\n" +
			"Cannot go back to: **" + rej.Target.String() + "**\n\n" +
			"**Valid next status:** " + rej.NextText(), true
	case errors.As(err, &se):
		return "❌ Invalid syntax! " + capitalize(strings.TrimPrefix(se.Error(), "syntax error: ")), true
	case errors.As(err, &nf):
		return notFoundText(nf), true
	case errors.As(err, &ve):
		return "❌ " + capitalize(ve.Msg), true
	case errors.Is(err, domain.ErrNoTargets), errors.Is(err, domain.ErrAllFailed), errors.Is(err, domain.ErrUnsupported):
		return "❌ " + capitalize(err.Error()), true
	case errors.Is(err, domain.ErrConflict):
		return "❌ " + capitalize(err.Error()) + ": the record changed meanwhile, try again.", true
	case errors.Is(err, context.DeadlineExceeded):
		return "❌ The command timed out.", false
	}
	return "❌ Error: " + err.Error(), false
}

func notFoundText(nf *domain.NotFoundError) string {
	if nf.Kind == domain.KindChannel {
		if sel, partner, ok := strings.Cut(nf.Key, " in "); ok {
			return "❌ Channel **" + sel + "** not found in partner **" + partner + "**"
		}
	}
	return "❌ " + capitalize(nf.Kind) + " not found: **" + nf.Key + "**"
}

func usage(req *router.Request, u string) error {
	return &domain.SyntaxError{Msg: "use: " + req.Prefix + u}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// partnerArg returns -p, falling back to the first positional.
func partnerArg(req *router.Request) (string, []string) {
	if p := req.Flag("p"); p != "" {
		return p, req.Args
	}
	if len(req.Args) > 0 {
		return req.Args[0], req.Args[1:]
	}
	return "", nil
}

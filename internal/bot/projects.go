package bot

import (
	"context"
	"strconv"
	"strings"

	"dispatchbot/internal/registry"
	"dispatchbot/internal/router"
)

func (h *Handlers) listProjects(ctx context.Context, req *router.Request) error {
	groups, err := h.registry.ListProjects(ctx, req.Flag("p"))
	if err != nil {
		return h.fail(ctx, req, err)
	}
	var b strings.Builder
	b.WriteString("**📁 Project List:**\n")
	n := 0
	for _, g := range groups {
		if len(g.Projects) == 0 {
			continue
		}
		b.WriteString("\n**" + g.Partner.Name + "** (" + strconv.Itoa(len(g.Projects)) + ")\n")
		for _, pr := range g.Projects {
			b.WriteString("   • " + pr.Name + " `" + pr.ChannelID + "`\n")
			n++
		}
	}
	if n == 0 {
		return req.Reply(ctx, "❌ No projects found in the system.")
	}
	return req.Reply(ctx, b.String())
}

func (h *Handlers) infoProject(ctx context.Context, req *router.Request) error {
	prefix := req.Flag("c")
	if prefix == "" && len(req.Args) > 0 {
		prefix = req.Args[0]
	}
	if prefix == "" {
		return h.fail(ctx, req, usage(req, "info_project -p <partner> -c <project> or "+req.Prefix+"info_project <project>"))
	}
	infos, err := h.registry.ProjectInfo(ctx, req.Flag("p"), prefix)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	var b strings.Builder
	for i, in := range infos {
		if i > 0 {
			b.WriteString("\n")
		}
		tz := in.Partner.TimezoneOffset
		b.WriteString("**📁 " + in.Project.Name + "** (partner **" + in.Partner.Name + "**)\n")
		b.WriteString("• **Channel:** `" + in.Project.ChannelID + "`\n")
		b.WriteString("• **Created:** " + registry.FormatIn(in.Project.CreatedAt, tz) + "\n")
		b.WriteString("\n**📊 Message statistics:**\n")
		writeCounts(&b, in.Counts)
		if in.Latest != nil {
			b.WriteString("\n**🕒 Latest message:** **" + in.Latest.StatusText() + "** - " +
				registry.FormatIn(in.Latest.Timestamp, tz) + "\n")
			b.WriteString("• " + preview(in.Latest.Content, 100) + "\n")
			if in.Latest.ReplyContent != nil {
				b.WriteString("• Reply: " + preview(*in.Latest.ReplyContent, 100) + "\n")
			}
		}
	}
	return req.Reply(ctx, b.String())
}

func (h *Handlers) deleteProject(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return h.fail(ctx, req, usage(req, "delete_project [-p <partner>] <project_name>"))
	}
	hit, err := h.registry.DeleteProject(ctx, req.Flag("p"), strings.Join(req.Args, " "))
	if err != nil {
		return h.fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ Project **"+hit.Projects[0].Name+"** deleted from partner **"+hit.Partner.Name+"**")
}

func (h *Handlers) updateProjects(ctx context.Context, req *router.Request) error {
	partner, _ := partnerArg(req)
	if partner == "" {
		return h.fail(ctx, req, usage(req, "update_projects -p <partner>"))
	}
	p, res, err := h.registry.SyncProjects(ctx, partner)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	if !res.Changed() {
		return req.Reply(ctx, "✅ Projects of **"+p.Name+"** are already up to date.")
	}
	var b strings.Builder
	b.WriteString("✅ Projects of **" + p.Name + "** updated.\n")
	if len(res.Added) > 0 {
		b.WriteString("\n**Added:**\n")
		for _, pr := range res.Added {
			b.WriteString("• " + pr.Name + "\n")
		}
	}
	if len(res.Renamed) > 0 {
		b.WriteString("\n**Renamed:**\n")
		for _, r := range res.Renamed {
			b.WriteString("• " + r.From + " → " + r.Project.Name + "\n")
		}
	}
	if len(res.Removed) > 0 {
		b.WriteString("\n**Removed:**\n")
		for _, pr := range res.Removed {
			b.WriteString("• " + pr.Name + "\n")
		}
	}
	return req.Reply(ctx, b.String())
}

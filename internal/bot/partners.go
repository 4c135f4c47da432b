package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"dispatchbot/internal/domain"
	"dispatchbot/internal/registry"
	"dispatchbot/internal/router"
	"dispatchbot/internal/storage"
)

func (h *Handlers) addPartner(ctx context.Context, req *router.Request) error {
	args := req.Args
	if len(args) < 3 {
		return h.fail(ctx, req, usage(req, `add_partner <partner_name> <server_id> <@user1> <@user2> ... [timezone]`+
			"\n\n**Example:**\n• `"+req.Prefix+`add_partner "Client A" 123456789012345678 @john_doe`+"`\n• `"+
			req.Prefix+`add_partner "Client B" 123456789012345678 @john_doe @jane_doe +05:30`+"`"))
	}
	in := registry.NewPartner{
		Name:        args[0],
		ServerID:    args[1],
		InvokedFrom: req.Message.ServerID,
	}
	tags := args[2:]
	if last := tags[len(tags)-1]; registry.LooksLikeOffset(last) {
		in.Timezone = last
		tags = tags[:len(tags)-1]
	}
	if len(tags) == 0 {
		return h.fail(ctx, req, usage(req, "add_partner <partner_name> <server_id> <@user>... [timezone]"))
	}
	in.Tags = tags

	p, projects, err := h.registry.AddPartner(ctx, in)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return req.Reply(ctx, "❌ Partner **"+domain.NormalizePartnerName(in.Name)+"** already exists in this server.")
		}
		return h.fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ Partner **"+p.Name+"** added successfully!\n\n"+
		"📊 **Information:**\n"+
		"• **Server:** "+p.ServerID+"\n"+
		"• **Users:** "+strings.Join(p.Tags, ", ")+"\n"+
		"• **Timezone:** "+p.TimezoneOffset+"\n"+
		"• **Projects:** "+strconv.Itoa(len(projects))+" channels\n\n"+
		"💡 **Next command:**\n"+
		"• `"+req.Prefix+"list_projects -p \""+p.Name+"\"` - View project list\n"+
		"• `"+req.Prefix+"send -p \""+p.Name+"\" -c \"channel_name\" | <content>` - Send message")
}

func (h *Handlers) listPartners(ctx context.Context, req *router.Request) error {
	list, err := h.registry.ListPartners(ctx)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	if len(list) == 0 {
		return req.Reply(ctx, "❌ No partners found in the system.")
	}
	var b strings.Builder
	b.WriteString("**👥 Partner List:**\n")
	for _, s := range list {
		b.WriteString("\n**📋 " + s.Partner.Name + "**\n")
		b.WriteString("   • Users: " + orNA(strings.Join(s.Partner.Tags, ", ")) + "\n")
		b.WriteString("   • Server: " + s.Partner.ServerID + "\n")
		b.WriteString("   • Timezone: " + s.Partner.TimezoneOffset + "\n")
		b.WriteString("   • Projects: " + strconv.Itoa(s.Projects) + "\n")
	}
	return req.Reply(ctx, b.String())
}

func (h *Handlers) infoPartner(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return h.fail(ctx, req, usage(req, "info_partner <partner_name_or_user>"))
	}
	info, err := h.registry.PartnerInfo(ctx, strings.Join(req.Args, " "))
	if err != nil {
		return h.fail(ctx, req, err)
	}
	p := info.Partner
	var b strings.Builder
	b.WriteString("**📋 Partner " + p.Name + "**\n\n")
	b.WriteString("• **Server:** " + p.ServerID + "\n")
	b.WriteString("• **Users:** " + orNA(strings.Join(p.Tags, ", ")) + "\n")
	b.WriteString("• **Timezone:** " + p.TimezoneOffset + "\n")
	b.WriteString("• **Created:** " + registry.FormatIn(p.CreatedAt, p.TimezoneOffset) + "\n")

	names := make([]string, 0, len(info.Projects))
	for _, pr := range info.Projects {
		names = append(names, pr.Name)
	}
	b.WriteString("• **Projects (" + strconv.Itoa(len(names)) + "):** " + orNA(strings.Join(names, ", ")) + "\n")

	b.WriteString("\n**📊 Message statistics:**\n")
	writeCounts(&b, info.Counts)

	if len(info.Recent) > 0 {
		b.WriteString("\n**🕒 Recent messages:**\n")
		for _, r := range info.Recent {
			b.WriteString("• **" + r.StatusText() + "** " + r.ProjectName + " - " +
				registry.FormatIn(r.Timestamp, p.TimezoneOffset) + "\n")
		}
	}
	return req.Reply(ctx, b.String())
}

func (h *Handlers) setTimezone(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		return h.fail(ctx, req, usage(req, "set_timezone <partner_name> <timezone>"+
			"\n\n**Example:**\n• `"+req.Prefix+`set_timezone "Client A" +05:30`+"`\n• `"+req.Prefix+`set_timezone "Client B" -05:00`+"`"))
	}
	p, err := h.registry.SetTimezone(ctx, req.Args[0], req.Args[1])
	if err != nil {
		return h.fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ Timezone of partner **"+p.Name+"** set to **"+p.TimezoneOffset+"**")
}

func (h *Handlers) deletePartner(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return h.fail(ctx, req, usage(req, "delete_partner <partner_name>"))
	}
	p, err := h.registry.DeletePartner(ctx, strings.Join(req.Args, " "))
	if err != nil {
		return h.fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ Partner **"+p.Name+"** deleted with all of its projects and messages.")
}

func (h *Handlers) updateUser(ctx context.Context, req *router.Request) error {
	partner, rest := partnerArg(req)
	if partner == "" || len(rest) < 2 {
		return h.fail(ctx, req, usage(req, "update_user -p <partner_name> <old_user> <new_user>"))
	}
	p, err := h.registry.UpdateUser(ctx, partner, rest[0], rest[1])
	if err != nil {
		return h.fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ Updated user of partner **"+p.Name+"**: "+rest[0]+" → "+rest[1]+
		"\n• **Users:** "+strings.Join(p.Tags, ", "))
}

func writeCounts(b *strings.Builder, counts storage.StatusCounts) {
	b.WriteString("• Total: " + strconv.Itoa(counts.Total()) + "\n")
	for _, st := range domain.Chain {
		b.WriteString("• " + st.Label() + ": " + strconv.Itoa(counts[st]) + "\n")
	}
	if n := counts[domain.StatusUnknown]; n > 0 {
		b.WriteString("• Unknown: " + strconv.Itoa(n) + "\n")
	}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

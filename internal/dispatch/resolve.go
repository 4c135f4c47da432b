package dispatch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/cases"

	"dispatchbot/internal/directive"
	"dispatchbot/internal/domain"
)

// prefixLen is how many leading characters of a channel selector are compared
// against project names.
const prefixLen = 6

// Registry is the read side of the partner/project store.
type Registry interface {
	ListPartners(ctx context.Context) ([]domain.Partner, error)
	FindPartner(ctx context.Context, ident string) (domain.Partner, error)
	ProjectsByPartner(ctx context.Context, partnerID int64) ([]domain.Project, error)
}

// Resolution is one partner expanded from a directive group.
type Resolution struct {
	Partner domain.Partner
	// All is the partner's full project set, used for reporting.
	All []domain.Project
	// Send is the subset to dispatch to. A project may appear more than once
	// when several selectors match it.
	Send []domain.Project
}

// Plan is the resolver output for a whole directive.
type Plan struct {
	Resolutions []Resolution
	// Notices are non-fatal lookup failures in directive order.
	Notices []*domain.NotFoundError
}

// Targets flattens the plan into dispatch order. Duplicates are kept.
func (p Plan) Targets() []Target {
	var out []Target
	for _, r := range p.Resolutions {
		for _, pr := range r.Send {
			out = append(out, Target{Partner: r.Partner, Project: pr})
		}
	}
	return out
}

// Resolve expands every group into concrete partner/project pairs. Missing
// partners and unmatched channel prefixes become notices; only store failures
// are returned as errors.
func Resolve(ctx context.Context, reg Registry, groups []directive.Group) (Plan, error) {
	var plan Plan
	for _, g := range groups {
		if g.Partner == directive.AllPartners {
			partners, err := reg.ListPartners(ctx)
			if err != nil {
				return Plan{}, fmt.Errorf("list partners: %w", err)
			}
			for _, p := range partners {
				all, err := reg.ProjectsByPartner(ctx, p.ID)
				if err != nil {
					return Plan{}, fmt.Errorf("projects of %s: %w", p.Name, err)
				}
				// Broadcast overrides any channel filter on this group.
				plan.Resolutions = append(plan.Resolutions, Resolution{Partner: p, All: all, Send: all})
			}
			continue
		}

		p, err := reg.FindPartner(ctx, g.Partner)
		if err != nil {
			var nf *domain.NotFoundError
			if errors.As(err, &nf) {
				plan.Notices = append(plan.Notices, &domain.NotFoundError{Kind: domain.KindPartner, Key: g.Partner})
				continue
			}
			return Plan{}, fmt.Errorf("find partner %q: %w", g.Partner, err)
		}
		all, err := reg.ProjectsByPartner(ctx, p.ID)
		if err != nil {
			return Plan{}, fmt.Errorf("projects of %s: %w", p.Name, err)
		}
		if len(all) == 0 {
			plan.Notices = append(plan.Notices, &domain.NotFoundError{Kind: domain.KindProject, Key: p.Name})
		}

		res := Resolution{Partner: p, All: all}
		if g.Broadcast() {
			res.Send = all
		} else {
			for _, sel := range g.Channels {
				matched := matchPrefix(all, sel)
				if len(matched) == 0 {
					plan.Notices = append(plan.Notices, &domain.NotFoundError{Kind: domain.KindChannel, Key: sel + " in " + p.Name})
					continue
				}
				res.Send = append(res.Send, matched...)
			}
		}
		plan.Resolutions = append(plan.Resolutions, res)
	}
	return plan, nil
}

// matchPrefix returns the projects whose first six characters equal the
// selector's first six, compared with Unicode case folding.
func matchPrefix(projects []domain.Project, selector string) []domain.Project {
	fold := cases.Fold()
	want := fold.String(head(selector, prefixLen))
	var out []domain.Project
	for _, p := range projects {
		if fold.String(head(p.Name, prefixLen)) == want {
			out = append(out, p)
		}
	}
	return out
}

func head(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

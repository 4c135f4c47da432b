package dispatch

import (
	"strings"

	"dispatchbot/internal/domain"
)

type Classification int

const (
	NotAddressed Classification = iota
	Sent
	Failed
)

func (c Classification) String() string {
	switch c {
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	default:
		return "not addressed"
	}
}

type ProjectLine struct {
	Project domain.Project
	Class   Classification
}

type PartnerState int

const (
	PartnerNotIncluded PartnerState = iota
	PartnerNoProjects
	PartnerProcessed
)

// PartnerBlock is the report section for one registered partner.
type PartnerBlock struct {
	Partner domain.Partner
	State   PartnerState
	Lines   []ProjectLine
}

type Report struct {
	BatchID string
	Sent    int
	Failed  int
	Blocks  []PartnerBlock
}

// BuildReport classifies every project of every registered partner against
// the plan and the dispatch outcomes. A project is failed if any of its
// dispatch attempts failed.
func BuildReport(partners []domain.Partner, plan Plan, outcomes []Outcome) Report {
	var r Report
	failed := make(map[int64]bool)
	for _, o := range outcomes {
		if o.OK() {
			r.Sent++
		} else {
			r.Failed++
			failed[o.Project.ID] = true
		}
	}

	touched := make(map[int64]bool)
	all := make(map[int64][]domain.Project)
	inSend := make(map[int64]bool)
	for _, res := range plan.Resolutions {
		id := res.Partner.ID
		if !touched[id] {
			touched[id] = true
			all[id] = res.All
		}
		for _, p := range res.Send {
			inSend[p.ID] = true
		}
	}

	for _, p := range partners {
		b := PartnerBlock{Partner: p}
		switch {
		case !touched[p.ID]:
			b.State = PartnerNotIncluded
		case len(all[p.ID]) == 0:
			b.State = PartnerNoProjects
		default:
			b.State = PartnerProcessed
			for _, pr := range all[p.ID] {
				line := ProjectLine{Project: pr}
				if inSend[pr.ID] {
					line.Class = Sent
					if failed[pr.ID] {
						line.Class = Failed
					}
				}
				b.Lines = append(b.Lines, line)
			}
		}
		r.Blocks = append(r.Blocks, b)
	}
	return r
}

// Render formats the report for the operator channel.
func (r Report) Render() string {
	var b strings.Builder
	b.WriteString("**Send Report:**")
	for _, blk := range r.Blocks {
		b.WriteString("\n- " + blk.Partner.Name + ":")
		switch blk.State {
		case PartnerNotIncluded:
			b.WriteString(" This partner was not included in the send request.")
		case PartnerNoProjects:
			b.WriteString(" No projects were processed for this partner.")
		default:
			for _, l := range blk.Lines {
				b.WriteString("\n    • " + l.Project.Name + ": " + lineText(l.Class))
			}
		}
	}
	return b.String()
}

func lineText(c Classification) string {
	switch c {
	case Sent:
		return "The request has been sent to this project."
	case Failed:
		return "Failed to send the request."
	default:
		return "This project didn't get the request."
	}
}

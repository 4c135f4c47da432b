// Package registry administers partners and projects and lists the ledger.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dispatchbot/internal/domain"
	"dispatchbot/internal/eventbus"
	"dispatchbot/internal/storage"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

// Store is the subset of *storage.Store the registry uses.
type Store interface {
	CreatePartner(ctx context.Context, p domain.Partner, projects []domain.Project) (domain.Partner, error)
	FindPartner(ctx context.Context, ident string) (domain.Partner, error)
	ListPartners(ctx context.Context) ([]domain.Partner, error)
	SetTimezone(ctx context.Context, partnerID int64, offset string) error
	DeletePartner(ctx context.Context, partnerID int64) error
	ReplaceTag(ctx context.Context, partnerID int64, oldTag, newTag string) error

	ProjectsByPartner(ctx context.Context, partnerID int64) ([]domain.Project, error)
	AllProjects(ctx context.Context) ([]domain.Project, error)
	DeleteProject(ctx context.Context, id int64) error
	ReconcileProjects(ctx context.Context, partnerID int64, live []domain.Project) (storage.SyncResult, error)

	ListDeliveries(ctx context.Context, f storage.DeliveryFilter) ([]domain.DeliveryRecord, error)
	CountStatuses(ctx context.Context, partnerID, projectID int64) (storage.StatusCounts, error)
	LatestDelivery(ctx context.Context, projectID int64) (domain.DeliveryRecord, error)
}

// Channels enumerates a server's channels on the chat platform.
type Channels interface {
	ServerChannels(ctx context.Context, serverID string) ([]kit.Channel, error)
}

type Service struct {
	store Store
	chans Channels
	bus   eventbus.Bus
	log   logx.Logger
}

func New(store Store, chans Channels, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Service{store: store, chans: chans, bus: bus, log: log}
}

// ---- partners ----

type NewPartner struct {
	Name     string
	ServerID string
	Tags     []string
	Timezone string
	// InvokedFrom is the server the command was issued in.
	InvokedFrom string
}

// AddPartner registers a partner and seeds its projects from every text
// channel of the server the bot can view and post in.
func (s *Service) AddPartner(ctx context.Context, in NewPartner) (domain.Partner, []domain.Project, error) {
	name := domain.NormalizePartnerName(in.Name)
	if name == "" {
		return domain.Partner{}, nil, invalid("partner name is empty")
	}
	if in.InvokedFrom == "" {
		return domain.Partner{}, nil, invalid("this command only works inside a server")
	}
	if in.ServerID != in.InvokedFrom {
		return domain.Partner{}, nil, invalid(fmt.Sprintf("server id %s does not match the current server %s", in.ServerID, in.InvokedFrom))
	}
	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	if _, err := ParseOffset(tz); err != nil {
		return domain.Partner{}, nil, err
	}

	chans, err := s.chans.ServerChannels(ctx, in.ServerID)
	if err != nil {
		return domain.Partner{}, nil, fmt.Errorf("list channels: %w", err)
	}
	var projects []domain.Project
	for _, ch := range chans {
		if ch.Sendable {
			projects = append(projects, domain.Project{Name: ch.Name, ChannelID: ch.ID})
		}
	}
	if len(projects) == 0 {
		return domain.Partner{}, nil, invalid("the bot cannot post in any channel of this server")
	}

	p, err := s.store.CreatePartner(ctx, domain.Partner{
		Name:           name,
		ServerID:       in.ServerID,
		TimezoneOffset: tz,
		Tags:           in.Tags,
	}, projects)
	if err != nil {
		return domain.Partner{}, nil, err
	}
	created, err := s.store.ProjectsByPartner(ctx, p.ID)
	if err != nil {
		return p, nil, err
	}
	s.log.Info("partner added", logx.String("partner", p.Name), logx.Int("projects", len(created)))
	return p, created, nil
}

type PartnerSummary struct {
	Partner  domain.Partner
	Projects int
}

func (s *Service) ListPartners(ctx context.Context) ([]PartnerSummary, error) {
	partners, err := s.store.ListPartners(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PartnerSummary, 0, len(partners))
	for _, p := range partners {
		prs, err := s.store.ProjectsByPartner(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, PartnerSummary{Partner: p, Projects: len(prs)})
	}
	return out, nil
}

type PartnerInfo struct {
	Partner  domain.Partner
	Projects []domain.Project
	Counts   storage.StatusCounts
	Recent   []domain.DeliveryRecord
}

func (s *Service) PartnerInfo(ctx context.Context, ident string) (PartnerInfo, error) {
	p, err := s.store.FindPartner(ctx, ident)
	if err != nil {
		return PartnerInfo{}, err
	}
	info := PartnerInfo{Partner: p}
	if info.Projects, err = s.store.ProjectsByPartner(ctx, p.ID); err != nil {
		return info, err
	}
	if info.Counts, err = s.store.CountStatuses(ctx, p.ID, 0); err != nil {
		return info, err
	}
	info.Recent, err = s.store.ListDeliveries(ctx, storage.DeliveryFilter{PartnerID: p.ID, Limit: 5})
	return info, err
}

func (s *Service) SetTimezone(ctx context.Context, ident, offset string) (domain.Partner, error) {
	if _, err := ParseOffset(offset); err != nil {
		return domain.Partner{}, err
	}
	p, err := s.store.FindPartner(ctx, ident)
	if err != nil {
		return domain.Partner{}, err
	}
	if err := s.store.SetTimezone(ctx, p.ID, strings.TrimSpace(offset)); err != nil {
		return p, err
	}
	p.TimezoneOffset = strings.TrimSpace(offset)
	return p, nil
}

func (s *Service) DeletePartner(ctx context.Context, ident string) (domain.Partner, error) {
	p, err := s.store.FindPartner(ctx, ident)
	if err != nil {
		return domain.Partner{}, err
	}
	if err := s.store.DeletePartner(ctx, p.ID); err != nil {
		return p, err
	}
	s.log.Info("partner deleted", logx.String("partner", p.Name))
	return p, nil
}

// UpdateUser swaps one tag target of a partner in place.
func (s *Service) UpdateUser(ctx context.Context, ident, oldTag, newTag string) (domain.Partner, error) {
	if strings.TrimSpace(newTag) == "" {
		return domain.Partner{}, invalid("new tag is empty")
	}
	p, err := s.store.FindPartner(ctx, ident)
	if err != nil {
		return domain.Partner{}, err
	}
	if err := s.store.ReplaceTag(ctx, p.ID, oldTag, newTag); err != nil {
		return p, err
	}
	return s.store.FindPartner(ctx, p.Name)
}

// ---- projects ----

type PartnerProjects struct {
	Partner  domain.Partner
	Projects []domain.Project
}

// ListProjects lists one partner's projects, or everybody's when ident is empty.
func (s *Service) ListProjects(ctx context.Context, ident string) ([]PartnerProjects, error) {
	if strings.TrimSpace(ident) != "" {
		p, err := s.store.FindPartner(ctx, ident)
		if err != nil {
			return nil, err
		}
		prs, err := s.store.ProjectsByPartner(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return []PartnerProjects{{Partner: p, Projects: prs}}, nil
	}

	partners, err := s.store.ListPartners(ctx)
	if err != nil {
		return nil, err
	}
	all, err := s.store.AllProjects(ctx)
	if err != nil {
		return nil, err
	}
	byPartner := make(map[int64][]domain.Project, len(partners))
	for _, pr := range all {
		byPartner[pr.PartnerID] = append(byPartner[pr.PartnerID], pr)
	}
	out := make([]PartnerProjects, 0, len(partners))
	for _, p := range partners {
		out = append(out, PartnerProjects{Partner: p, Projects: byPartner[p.ID]})
	}
	return out, nil
}

type ProjectInfo struct {
	Partner domain.Partner
	Project domain.Project
	Counts  storage.StatusCounts
	// Latest is nil when nothing was ever sent to the project.
	Latest *domain.DeliveryRecord
}

// ProjectInfo describes every project whose name starts like prefix.
func (s *Service) ProjectInfo(ctx context.Context, ident, prefix string) ([]ProjectInfo, error) {
	partners, err := s.partners(ctx, ident)
	if err != nil {
		return nil, err
	}
	var out []ProjectInfo
	for _, p := range partners {
		prs, err := s.store.ProjectsByPartner(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, pr := range prs {
			if !strings.HasPrefix(strings.ToLower(pr.Name), strings.ToLower(prefix)) {
				continue
			}
			info := ProjectInfo{Partner: p, Project: pr}
			if info.Counts, err = s.store.CountStatuses(ctx, 0, pr.ID); err != nil {
				return nil, err
			}
			latest, err := s.store.LatestDelivery(ctx, pr.ID)
			switch {
			case err == nil:
				info.Latest = &latest
			case !errors.Is(err, domain.ErrNotFound):
				return nil, err
			}
			out = append(out, info)
		}
	}
	if len(out) == 0 {
		return nil, domain.NotFound(domain.KindProject, prefix)
	}
	return out, nil
}

// DeleteProject removes the project with exactly this name. Without a
// partner the name must be unambiguous.
func (s *Service) DeleteProject(ctx context.Context, ident, name string) (PartnerProjects, error) {
	partners, err := s.partners(ctx, ident)
	if err != nil {
		return PartnerProjects{}, err
	}
	var hits []PartnerProjects
	for _, p := range partners {
		prs, err := s.store.ProjectsByPartner(ctx, p.ID)
		if err != nil {
			return PartnerProjects{}, err
		}
		for _, pr := range prs {
			if pr.Name == name {
				hits = append(hits, PartnerProjects{Partner: p, Projects: []domain.Project{pr}})
			}
		}
	}
	switch len(hits) {
	case 0:
		return PartnerProjects{}, domain.NotFound(domain.KindProject, name)
	case 1:
	default:
		return PartnerProjects{}, invalid(fmt.Sprintf("project %q exists for %d partners; name one with -p", name, len(hits)))
	}
	hit := hits[0]
	if err := s.store.DeleteProject(ctx, hit.Projects[0].ID); err != nil {
		return hit, err
	}
	s.log.Info("project deleted", logx.String("partner", hit.Partner.Name), logx.String("project", name))
	return hit, nil
}

// SyncProjects mirrors the partner's server channels onto its projects.
func (s *Service) SyncProjects(ctx context.Context, ident string) (domain.Partner, storage.SyncResult, error) {
	p, err := s.store.FindPartner(ctx, ident)
	if err != nil {
		return domain.Partner{}, storage.SyncResult{}, err
	}
	res, err := s.sync(ctx, p)
	return p, res, err
}

// SyncAll reconciles every partner. Per-partner failures are logged and
// skipped; the first one is returned.
func (s *Service) SyncAll(ctx context.Context) error {
	partners, err := s.store.ListPartners(ctx)
	if err != nil {
		return err
	}
	var first error
	for _, p := range partners {
		if _, err := s.sync(ctx, p); err != nil {
			if errors.Is(err, domain.ErrUnsupported) {
				s.log.Debug("project sync unsupported by platform")
				return nil
			}
			s.log.Warn("project sync failed", logx.String("partner", p.Name), logx.Err(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (s *Service) sync(ctx context.Context, p domain.Partner) (storage.SyncResult, error) {
	chans, err := s.chans.ServerChannels(ctx, p.ServerID)
	if err != nil {
		return storage.SyncResult{}, err
	}
	live := make([]domain.Project, 0, len(chans))
	for _, ch := range chans {
		live = append(live, domain.Project{PartnerID: p.ID, Name: ch.Name, ChannelID: ch.ID})
	}
	res, err := s.store.ReconcileProjects(ctx, p.ID, live)
	if err != nil {
		return res, err
	}
	if res.Changed() {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeProjectsSynced, Data: eventbus.ProjectsSynced{
			Partner: p.Name,
			Added:   len(res.Added),
			Renamed: len(res.Renamed),
			Removed: len(res.Removed),
		}})
		s.log.Info("projects synced",
			logx.String("partner", p.Name),
			logx.Int("added", len(res.Added)),
			logx.Int("renamed", len(res.Renamed)),
			logx.Int("removed", len(res.Removed)),
		)
	}
	return res, nil
}

// ---- ledger listing ----

const (
	listDefault    = 30
	listForPartner = 20
	listAll        = 50
)

type ListQuery struct {
	Partner       string
	ProjectPrefix string
	All           bool
}

// MessageView is a ledger row with its time rendered in the partner's offset.
type MessageView struct {
	Record    domain.DeliveryRecord
	LocalTime string
}

func (s *Service) ListMessages(ctx context.Context, q ListQuery) ([]MessageView, error) {
	f := storage.DeliveryFilter{Limit: listDefault}
	tz := map[int64]string{}

	if q.Partner != "" {
		p, err := s.store.FindPartner(ctx, q.Partner)
		if err != nil {
			return nil, err
		}
		f.PartnerID = p.ID
		f.Limit = listForPartner
		if q.ProjectPrefix != "" {
			prs, err := s.store.ProjectsByPartner(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			for _, pr := range prs {
				if strings.HasPrefix(strings.ToLower(pr.Name), strings.ToLower(q.ProjectPrefix)) {
					f.ProjectIDs = append(f.ProjectIDs, pr.ID)
				}
			}
			if len(f.ProjectIDs) == 0 {
				return nil, domain.NotFound(domain.KindProject, q.ProjectPrefix+" in "+p.Name)
			}
		}
	}
	if q.All {
		f.Limit = listAll
	}

	recs, err := s.store.ListDeliveries(ctx, f)
	if err != nil {
		return nil, err
	}
	partners, err := s.store.ListPartners(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range partners {
		tz[p.ID] = p.TimezoneOffset
	}
	out := make([]MessageView, 0, len(recs))
	for _, r := range recs {
		out = append(out, MessageView{Record: r, LocalTime: FormatIn(r.Timestamp, tz[r.PartnerID])})
	}
	return out, nil
}

func (s *Service) partners(ctx context.Context, ident string) ([]domain.Partner, error) {
	if strings.TrimSpace(ident) == "" {
		return s.store.ListPartners(ctx)
	}
	p, err := s.store.FindPartner(ctx, ident)
	if err != nil {
		return nil, err
	}
	return []domain.Partner{p}, nil
}

func invalid(msg string) error {
	return &domain.ValidationError{Code: domain.CodeInvalidArgument, Msg: msg}
}

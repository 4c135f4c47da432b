package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchbot/internal/domain"
	logx "dispatchbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedPartner(t *testing.T, st *Store, name string, tags []string, projects ...string) (domain.Partner, []domain.Project) {
	t.Helper()
	ctx := context.Background()
	var prs []domain.Project
	for i, p := range projects {
		prs = append(prs, domain.Project{Name: p, ChannelID: name + "-ch-" + string(rune('a'+i))})
	}
	p, err := st.CreatePartner(ctx, domain.Partner{Name: name, ServerID: "srv", TimezoneOffset: "+07:00", Tags: tags}, prs)
	require.NoError(t, err)
	got, err := st.ProjectsByPartner(ctx, p.ID)
	require.NoError(t, err)
	return p, got
}

func TestPartnerLookup(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	acme, _ := seedPartner(t, st, "acme_corp", []string{"<@111>", "@bob"}, "alpha")

	p, err := st.FindPartner(ctx, "acme_corp")
	require.NoError(t, err)
	assert.Equal(t, acme.ID, p.ID)
	assert.Equal(t, []string{"<@111>", "@bob"}, p.Tags)

	p, err = st.FindPartner(ctx, "Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, acme.ID, p.ID)

	p, err = st.FindPartner(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, acme.ID, p.ID)

	_, err = st.FindPartner(ctx, "nobody")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = st.CreatePartner(ctx, domain.Partner{Name: "acme_corp", ServerID: "srv", TimezoneOffset: "+07:00"}, nil)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestListPartnersOrderedByName(t *testing.T) {
	st := openTestStore(t)
	seedPartner(t, st, "zeta", nil)
	seedPartner(t, st, "alpha", []string{"@a"})

	ps, err := st.ListPartners(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "alpha", ps[0].Name)
	assert.Equal(t, []string{"@a"}, ps[0].Tags)
	assert.Equal(t, "zeta", ps[1].Name)
}

func TestDeletePartnerCascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	p, prs := seedPartner(t, st, "acme", []string{"@a"}, "alpha", "beta")

	_, err := st.InsertDelivery(ctx, domain.DeliveryRecord{PartnerID: p.ID, ProjectID: prs[0].ID, Content: "hi", ExternalMessageID: "m1", Status: domain.StatusRequested})
	require.NoError(t, err)

	require.NoError(t, st.DeletePartner(ctx, p.ID))

	all, err := st.AllProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	recs, err := st.ListDeliveries(ctx, DeliveryFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	assert.True(t, errors.Is(st.DeletePartner(ctx, p.ID), domain.ErrNotFound))
}

func TestAdvanceDeliveryIsConditional(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	p, prs := seedPartner(t, st, "acme", nil, "alpha")

	id, err := st.InsertDelivery(ctx, domain.DeliveryRecord{PartnerID: p.ID, ProjectID: prs[0].ID, Content: "hi", ExternalMessageID: "m1"})
	require.NoError(t, err)

	rec, err := st.DeliveryByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRequested, rec.Status)
	assert.Equal(t, "alpha", rec.ProjectName)
	assert.Equal(t, "acme", rec.PartnerName)

	ok, err := st.AdvanceDelivery(ctx, id, "requested", domain.StatusOrderReceived, time.Now(), "ack")
	require.NoError(t, err)
	assert.True(t, ok)

	// stale expected status
	ok, err = st.AdvanceDelivery(ctx, id, "requested", domain.StatusBuildSent, time.Now(), "again")
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err = st.DeliveryByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOrderReceived, rec.Status)
	require.NotNil(t, rec.ReplyContent)
	assert.Equal(t, "ack", *rec.ReplyContent)
	require.NotNil(t, rec.ReplyTimestamp)
}

func TestSetDeliveryStatusStampsReplyTime(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	p, prs := seedPartner(t, st, "acme", nil, "alpha")
	id, err := st.InsertDelivery(ctx, domain.DeliveryRecord{PartnerID: p.ID, ProjectID: prs[0].ID, Content: "hi", ExternalMessageID: "m1"})
	require.NoError(t, err)

	at := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.SetDeliveryStatus(ctx, id, domain.StatusReleased, at))

	rec, err := st.DeliveryByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, rec.Status)
	require.NotNil(t, rec.ReplyTimestamp)
	assert.True(t, at.Equal(*rec.ReplyTimestamp))
	assert.Nil(t, rec.ReplyContent)

	assert.ErrorIs(t, st.SetDeliveryStatus(ctx, id+100, domain.StatusReleased, at), domain.ErrNotFound)
}

func TestDeliveriesByExternalIDKeepsDuplicates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	p, prs := seedPartner(t, st, "acme", nil, "alpha", "beta")

	first, err := st.InsertDelivery(ctx, domain.DeliveryRecord{PartnerID: p.ID, ProjectID: prs[0].ID, Content: "a", ExternalMessageID: "dup"})
	require.NoError(t, err)
	_, err = st.InsertDelivery(ctx, domain.DeliveryRecord{PartnerID: p.ID, ProjectID: prs[1].ID, Content: "b", ExternalMessageID: "dup"})
	require.NoError(t, err)

	recs, err := st.DeliveriesByExternalID(ctx, "dup")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, first, recs[0].ID)
}

func TestLegacyStatusesNormalize(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	p, prs := seedPartner(t, st, "acme", nil, "alpha")

	id, err := st.InsertDelivery(ctx, domain.DeliveryRecord{PartnerID: p.ID, ProjectID: prs[0].ID, Content: "a", ExternalMessageID: "m"})
	require.NoError(t, err)
	_, err = st.db.ExecContext(ctx, `UPDATE deliveries SET status = 'nhận order' WHERE id = ?`, id)
	require.NoError(t, err)

	rec, err := st.DeliveryByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOrderReceived, rec.Status)
	assert.Equal(t, "nhận order", rec.RawStatus)

	counts, err := st.CountStatuses(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusOrderReceived])

	n, err := st.NormalizeLegacyStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err = st.DeliveryByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "order_received", rec.RawStatus)
}

func TestReconcileProjects(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	p, err := st.CreatePartner(ctx, domain.Partner{Name: "acme", ServerID: "srv", TimezoneOffset: "+07:00"}, []domain.Project{
		{Name: "alpha", ChannelID: "c1"},
		{Name: "beta", ChannelID: "c2"},
		{Name: "gamma", ChannelID: "c3"},
	})
	require.NoError(t, err)

	res, err := st.ReconcileProjects(ctx, p.ID, []domain.Project{
		{Name: "alpha", ChannelID: "c1"},
		{Name: "beta-renamed", ChannelID: "c2"},
		{Name: "delta", ChannelID: "c4"},
	})
	require.NoError(t, err)
	assert.True(t, res.Changed())

	require.Len(t, res.Added, 1)
	assert.Equal(t, "delta", res.Added[0].Name)
	require.Len(t, res.Renamed, 1)
	assert.Equal(t, "beta", res.Renamed[0].From)
	assert.Equal(t, "beta-renamed", res.Renamed[0].Project.Name)
	require.Len(t, res.Removed, 1)
	assert.Equal(t, "gamma", res.Removed[0].Name)

	prs, err := st.ProjectsByPartner(ctx, p.ID)
	require.NoError(t, err)
	var names []string
	for _, pr := range prs {
		names = append(names, pr.Name)
	}
	assert.Equal(t, []string{"alpha", "beta-renamed", "delta"}, names)

	again, err := st.ReconcileProjects(ctx, p.ID, []domain.Project{
		{Name: "alpha", ChannelID: "c1"},
		{Name: "beta-renamed", ChannelID: "c2"},
		{Name: "delta", ChannelID: "c4"},
	})
	require.NoError(t, err)
	assert.False(t, again.Changed())
}

func TestReplaceTagKeepsPosition(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	p, _ := seedPartner(t, st, "acme", []string{"@a", "@b"})

	require.NoError(t, st.ReplaceTag(ctx, p.ID, "@a", "@z"))
	got, err := st.PartnerByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"@z", "@b"}, got.Tags)

	assert.True(t, errors.Is(st.ReplaceTag(ctx, p.ID, "@missing", "@x"), domain.ErrNotFound))
}

func TestClearAndReset(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	seedPartner(t, st, "acme", nil, "alpha")
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{ActorID: "1", ChannelID: "c", Action: "send", Target: "acme", OK: true}))

	entries, err := st.RecentAudit(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].OK)

	require.NoError(t, st.Clear(ctx))
	ps, err := st.ListPartners(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps)

	seedPartner(t, st, "acme", nil, "alpha")
	require.NoError(t, st.Reset(ctx))
	ps, err = st.ListPartners(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

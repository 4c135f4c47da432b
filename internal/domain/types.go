package domain

import (
	"strings"
	"time"
)

// Partner is a registered recipient. Name is normalized and unique per ServerID.
type Partner struct {
	ID             int64
	Name           string
	ServerID       string
	TimezoneOffset string
	// Tags are mention identifiers in registration order.
	Tags      []string
	CreatedAt time.Time
}

// FirstTag returns the partner's primary mention target.
func (p Partner) FirstTag() (string, bool) {
	for _, t := range p.Tags {
		if strings.TrimSpace(t) != "" {
			return t, true
		}
	}
	return "", false
}

// Project is one delivery target: a channel on the chat platform.
type Project struct {
	ID        int64
	PartnerID int64
	Name      string
	ChannelID string
	CreatedAt time.Time
}

// DeliveryRecord is one ledger row for a successful send.
type DeliveryRecord struct {
	ID                int64
	PartnerID         int64
	ProjectID         int64
	BatchID           string
	Content           string
	ExternalMessageID string
	Status            Status
	// RawStatus keeps the stored text when Status is unknown.
	RawStatus      string
	ReplyTimestamp *time.Time
	ReplyContent   *string
	Timestamp      time.Time

	// Joined for display; not persisted on the row.
	PartnerName string
	ProjectName string
}

// StatusText returns the canonical status or the raw stored value.
func (r DeliveryRecord) StatusText() string {
	if r.Status.Known() {
		return r.Status.String()
	}
	return r.RawStatus
}

// NormalizePartnerName lowercases and replaces spaces with underscores.
func NormalizePartnerName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "_")
}

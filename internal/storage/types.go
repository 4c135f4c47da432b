package storage

import (
	"time"

	"dispatchbot/internal/domain"
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time
	ActorID   string
	ActorName string
	ChannelID string
	Action    string
	Target    string
	OK        bool
	Error     string
	TookMS    int64
	MetaJSON  string
}

// Rename is one project whose channel kept its id but changed its name.
type Rename struct {
	Project domain.Project
	From    string
}

// SyncResult is the outcome of reconciling a partner's projects against the
// live channel list.
type SyncResult struct {
	Added   []domain.Project
	Renamed []Rename
	Removed []domain.Project
}

func (r SyncResult) Changed() bool {
	return len(r.Added)+len(r.Renamed)+len(r.Removed) > 0
}

// DeliveryFilter narrows ListDeliveries. Zero fields do not filter.
type DeliveryFilter struct {
	PartnerID  int64
	ProjectIDs []int64
	Limit      int
}

// StatusCounts is the number of records per status. Unrecognized stored
// values are counted under domain.StatusUnknown.
type StatusCounts map[domain.Status]int

func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

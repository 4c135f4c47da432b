package storage

import (
	"context"
	"time"
)

func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_name, channel_id, action, target, ok, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		formatTime(e.At), e.ActorID, nullStr(e.ActorName), e.ChannelID,
		e.Action, e.Target, ok, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

// RecentAudit returns the newest audit entries, newest first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, actor_id, COALESCE(actor_name, ''), channel_id, action, target, ok, COALESCE(err, ''), took_ms, COALESCE(meta, '')
		 FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
			ok int
		)
		if err := rows.Scan(&at, &e.ActorID, &e.ActorName, &e.ChannelID, &e.Action, &e.Target, &ok, &e.Error, &e.TookMS, &e.MetaJSON); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		e.OK = ok == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

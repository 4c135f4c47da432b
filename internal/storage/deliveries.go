package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dispatchbot/internal/domain"
)

const deliveryCols = `d.id, d.partner_id, d.project_id, d.batch_id, d.content, d.external_message_id,
	d.status, d.reply_timestamp, d.reply_content, d.created_at, pa.name, pr.name`

const deliveryFrom = ` FROM deliveries d
	JOIN partners pa ON pa.id = d.partner_id
	JOIN projects pr ON pr.id = d.project_id`

// InsertDelivery appends a ledger row and returns its id.
func (s *Store) InsertDelivery(ctx context.Context, r domain.DeliveryRecord) (int64, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	status := r.Status.String()
	if status == "" {
		status = domain.StatusRequested.String()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(partner_id, project_id, batch_id, content, external_message_id, status, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		r.PartnerID, r.ProjectID, r.BatchID, r.Content, r.ExternalMessageID, status, formatTime(r.Timestamp),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DeliveriesByExternalID returns every record correlated with a platform
// message id, oldest first.
func (s *Store) DeliveriesByExternalID(ctx context.Context, externalID string) ([]domain.DeliveryRecord, error) {
	return s.queryDeliveries(ctx,
		`SELECT `+deliveryCols+deliveryFrom+` WHERE d.external_message_id = ? ORDER BY d.id`, externalID)
}

func (s *Store) DeliveryByID(ctx context.Context, id int64) (domain.DeliveryRecord, error) {
	recs, err := s.queryDeliveries(ctx, `SELECT `+deliveryCols+deliveryFrom+` WHERE d.id = ?`, id)
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	if len(recs) == 0 {
		return domain.DeliveryRecord{}, domain.NotFound(domain.KindRecord, fmt.Sprint(id))
	}
	return recs[0], nil
}

// LatestDelivery returns the most recent record for a project.
func (s *Store) LatestDelivery(ctx context.Context, projectID int64) (domain.DeliveryRecord, error) {
	recs, err := s.queryDeliveries(ctx,
		`SELECT `+deliveryCols+deliveryFrom+` WHERE d.project_id = ? ORDER BY d.id DESC LIMIT 1`, projectID)
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	if len(recs) == 0 {
		return domain.DeliveryRecord{}, domain.NotFound(domain.KindRecord, fmt.Sprintf("project %d", projectID))
	}
	return recs[0], nil
}

// AdvanceDelivery applies a reply-driven transition only if the stored status
// still equals fromRaw. ok is false when another writer got there first.
func (s *Store) AdvanceDelivery(ctx context.Context, id int64, fromRaw string, to domain.Status, at time.Time, reply string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, reply_timestamp = ?, reply_content = ?
		 WHERE id = ? AND status = ?`,
		to.String(), formatTime(at), reply, id, fromRaw,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetDeliveryStatus overwrites the status unconditionally and stamps the
// update time. Reply content is left untouched.
func (s *Store) SetDeliveryStatus(ctx context.Context, id int64, to domain.Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, reply_timestamp = ? WHERE id = ?`,
		to.String(), formatTime(at), id,
	)
	if err != nil {
		return err
	}
	return expectRow(res, domain.KindRecord, fmt.Sprint(id))
}

// ListDeliveries returns the newest records first.
func (s *Store) ListDeliveries(ctx context.Context, f DeliveryFilter) ([]domain.DeliveryRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.PartnerID != 0 {
		where = append(where, "d.partner_id = ?")
		args = append(args, f.PartnerID)
	}
	if len(f.ProjectIDs) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(f.ProjectIDs)), ",")
		where = append(where, "d.project_id IN ("+ph+")")
		for _, id := range f.ProjectIDs {
			args = append(args, id)
		}
	}
	q := `SELECT ` + deliveryCols + deliveryFrom
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY d.id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryDeliveries(ctx, q, args...)
}

// CountStatuses groups records of a partner or a project by normalized status.
// Pass 0 to leave a dimension unfiltered.
func (s *Store) CountStatuses(ctx context.Context, partnerID, projectID int64) (StatusCounts, error) {
	q := `SELECT status, COUNT(*) FROM deliveries WHERE 1=1`
	var args []any
	if partnerID != 0 {
		q += " AND partner_id = ?"
		args = append(args, partnerID)
	}
	if projectID != 0 {
		q += " AND project_id = ?"
		args = append(args, projectID)
	}
	q += " GROUP BY status"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := StatusCounts{}
	for rows.Next() {
		var (
			raw string
			n   int
		)
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, err
		}
		out[domain.NormalizeStatus(raw)] += n
	}
	return out, rows.Err()
}

// NormalizeLegacyStatuses rewrites legacy spellings to canonical names.
func (s *Store) NormalizeLegacyStatuses(ctx context.Context) (int64, error) {
	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, st := range domain.Chain {
			for _, legacy := range domain.LegacySpellings(st) {
				res, err := tx.ExecContext(ctx,
					`UPDATE deliveries SET status = ? WHERE LOWER(TRIM(status)) = ? AND status <> ?`,
					st.String(), legacy, st.String())
				if err != nil {
					return err
				}
				n, _ := res.RowsAffected()
				total += n
			}
		}
		return nil
	})
	return total, err
}

func (s *Store) queryDeliveries(ctx context.Context, query string, args ...any) ([]domain.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DeliveryRecord
	for rows.Next() {
		r, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanDelivery(r rowScanner) (domain.DeliveryRecord, error) {
	var (
		d         domain.DeliveryRecord
		rawStatus string
		replyAt   sql.NullString
		reply     sql.NullString
		created   string
	)
	err := r.Scan(&d.ID, &d.PartnerID, &d.ProjectID, &d.BatchID, &d.Content, &d.ExternalMessageID,
		&rawStatus, &replyAt, &reply, &created, &d.PartnerName, &d.ProjectName)
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	d.RawStatus = rawStatus
	d.Status = domain.NormalizeStatus(rawStatus)
	d.Timestamp = parseTime(created)
	if replyAt.Valid {
		t := parseTime(replyAt.String)
		d.ReplyTimestamp = &t
	}
	if reply.Valid {
		v := reply.String
		d.ReplyContent = &v
	}
	return d, nil
}

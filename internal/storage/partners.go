package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dispatchbot/internal/domain"
)

const partnerCols = `id, name, server_id, timezone, created_at`

// CreatePartner inserts the partner, its tags and its initial projects in one
// transaction. A duplicate (name, server) pair returns domain.ErrConflict.
func (s *Store) CreatePartner(ctx context.Context, p domain.Partner, projects []domain.Project) (domain.Partner, error) {
	now := time.Now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO partners(name, server_id, timezone, created_at) VALUES(?,?,?,?)`,
			p.Name, p.ServerID, p.TimezoneOffset, formatTime(now),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("partner %q already exists on server %s: %w", p.Name, p.ServerID, domain.ErrConflict)
			}
			return err
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		if err := writeTags(ctx, tx, p.ID, p.Tags); err != nil {
			return err
		}
		for _, pr := range projects {
			pr.PartnerID = p.ID
			if _, err := insertProject(ctx, tx, pr, now); err != nil && !isUniqueViolation(err) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Partner{}, err
	}
	p.CreatedAt = now
	return p, nil
}

func writeTags(ctx context.Context, q querier, partnerID int64, tags []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM partner_tags WHERE partner_id = ?`, partnerID); err != nil {
		return err
	}
	for i, t := range tags {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO partner_tags(partner_id, position, tag) VALUES(?,?,?)`, partnerID, i, t,
		); err != nil {
			return err
		}
	}
	return nil
}

// PartnerByID loads a partner with its tags.
func (s *Store) PartnerByID(ctx context.Context, id int64) (domain.Partner, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+partnerCols+` FROM partners WHERE id = ?`, id)
	p, err := scanPartner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Partner{}, domain.NotFound(domain.KindPartner, fmt.Sprint(id))
	}
	if err != nil {
		return domain.Partner{}, err
	}
	return s.withTags(ctx, p)
}

// PartnerByName matches the stored (normalized) name exactly.
func (s *Store) PartnerByName(ctx context.Context, name string) (domain.Partner, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+partnerCols+` FROM partners WHERE name = ? ORDER BY id LIMIT 1`, name)
	p, err := scanPartner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Partner{}, domain.NotFound(domain.KindPartner, name)
	}
	if err != nil {
		return domain.Partner{}, err
	}
	return s.withTags(ctx, p)
}

// FindPartner resolves an operator-supplied identifier: the exact name, then
// the normalized name, then any tag target (a leading '@' is ignored).
func (s *Store) FindPartner(ctx context.Context, ident string) (domain.Partner, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return domain.Partner{}, domain.NotFound(domain.KindPartner, ident)
	}
	p, err := s.PartnerByName(ctx, ident)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return p, err
	}
	if norm := domain.NormalizePartnerName(ident); norm != ident {
		p, err = s.PartnerByName(ctx, norm)
		if err == nil || !errors.Is(err, domain.ErrNotFound) {
			return p, err
		}
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT partner_id FROM partner_tags
		 WHERE tag = ? OR LTRIM(tag, '@') = LTRIM(?, '@')
		 ORDER BY partner_id, position LIMIT 1`, ident, ident,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Partner{}, domain.NotFound(domain.KindPartner, ident)
	}
	if err != nil {
		return domain.Partner{}, err
	}
	return s.PartnerByID(ctx, id)
}

// ListPartners returns every partner ordered by name.
func (s *Store) ListPartners(ctx context.Context) ([]domain.Partner, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+partnerCols+` FROM partners ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	var out []domain.Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tags, err := s.allTags(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Tags = tags[out[i].ID]
	}
	return out, nil
}

func (s *Store) SetTimezone(ctx context.Context, partnerID int64, offset string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE partners SET timezone = ? WHERE id = ?`, offset, partnerID)
	if err != nil {
		return err
	}
	return expectRow(res, domain.KindPartner, fmt.Sprint(partnerID))
}

// DeletePartner removes the partner; projects, tags and deliveries cascade.
func (s *Store) DeletePartner(ctx context.Context, partnerID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM partners WHERE id = ?`, partnerID)
	if err != nil {
		return err
	}
	return expectRow(res, domain.KindPartner, fmt.Sprint(partnerID))
}

// ReplaceTag swaps one tag target in place, keeping its position.
func (s *Store) ReplaceTag(ctx context.Context, partnerID int64, oldTag, newTag string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE partner_tags SET tag = ? WHERE partner_id = ? AND tag = ?`, newTag, partnerID, oldTag)
	if err != nil {
		return err
	}
	return expectRow(res, domain.KindTag, oldTag)
}

func (s *Store) withTags(ctx context.Context, p domain.Partner) (domain.Partner, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM partner_tags WHERE partner_id = ? ORDER BY position`, p.ID)
	if err != nil {
		return p, err
	}
	defer rows.Close()
	p.Tags = nil
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return p, err
		}
		p.Tags = append(p.Tags, t)
	}
	return p, rows.Err()
}

func (s *Store) allTags(ctx context.Context) (map[int64][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT partner_id, tag FROM partner_tags ORDER BY partner_id, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64][]string{}
	for rows.Next() {
		var (
			id  int64
			tag string
		)
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, err
		}
		out[id] = append(out[id], tag)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPartner(r rowScanner) (domain.Partner, error) {
	var (
		p       domain.Partner
		created string
	)
	if err := r.Scan(&p.ID, &p.Name, &p.ServerID, &p.TimezoneOffset, &created); err != nil {
		return domain.Partner{}, err
	}
	p.CreatedAt = parseTime(created)
	return p, nil
}

func expectRow(res sql.Result, kind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound(kind, key)
	}
	return nil
}

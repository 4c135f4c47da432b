package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dispatchbot/internal/domain"
)

const projectCols = `id, partner_id, name, channel_id, created_at`

func insertProject(ctx context.Context, q querier, p domain.Project, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO projects(partner_id, name, channel_id, created_at) VALUES(?,?,?,?)`,
		p.PartnerID, p.Name, p.ChannelID, formatTime(now),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CreateProject adds one project. Duplicate names per partner return domain.ErrConflict.
func (s *Store) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	now := time.Now()
	id, err := insertProject(ctx, s.db, p, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Project{}, fmt.Errorf("project %q: %w", p.Name, domain.ErrConflict)
		}
		return domain.Project{}, err
	}
	p.ID = id
	p.CreatedAt = now
	return p, nil
}

// ProjectsByPartner returns the partner's full project set ordered by name.
func (s *Store) ProjectsByPartner(ctx context.Context, partnerID int64) ([]domain.Project, error) {
	return s.queryProjects(ctx, s.db,
		`SELECT `+projectCols+` FROM projects WHERE partner_id = ? ORDER BY name, id`, partnerID)
}

// AllProjects returns every project ordered by partner then name.
func (s *Store) AllProjects(ctx context.Context) ([]domain.Project, error) {
	return s.queryProjects(ctx, s.db, `SELECT `+projectCols+` FROM projects ORDER BY partner_id, name, id`)
}

func (s *Store) ProjectByID(ctx context.Context, id int64) (domain.Project, error) {
	var (
		p       domain.Project
		created string
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.PartnerID, &p.Name, &p.ChannelID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, domain.NotFound(domain.KindProject, fmt.Sprint(id))
	}
	if err != nil {
		return domain.Project{}, err
	}
	p.CreatedAt = parseTime(created)
	return p, nil
}

// DeleteProject removes the project; its deliveries cascade.
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res, domain.KindProject, fmt.Sprint(id))
}

// ReconcileProjects mirrors live channels onto the partner's projects keyed by
// channel id: unknown channels are added, renamed channels are renamed and
// projects whose channel disappeared are removed.
func (s *Store) ReconcileProjects(ctx context.Context, partnerID int64, live []domain.Project) (SyncResult, error) {
	var out SyncResult
	now := time.Now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.queryProjects(ctx, tx,
			`SELECT `+projectCols+` FROM projects WHERE partner_id = ? ORDER BY name, id`, partnerID)
		if err != nil {
			return err
		}
		byChannel := make(map[string]domain.Project, len(current))
		for _, p := range current {
			byChannel[p.ChannelID] = p
		}
		seen := make(map[string]bool, len(live))

		for _, ch := range live {
			seen[ch.ChannelID] = true
			existing, ok := byChannel[ch.ChannelID]
			if ok {
				if existing.Name == ch.Name {
					continue
				}
				if _, err := tx.ExecContext(ctx, `UPDATE projects SET name = ? WHERE id = ?`, ch.Name, existing.ID); err != nil {
					if isUniqueViolation(err) {
						continue
					}
					return err
				}
				from := existing.Name
				existing.Name = ch.Name
				out.Renamed = append(out.Renamed, Rename{Project: existing, From: from})
				continue
			}
			p := domain.Project{PartnerID: partnerID, Name: ch.Name, ChannelID: ch.ChannelID, CreatedAt: now}
			id, err := insertProject(ctx, tx, p, now)
			if err != nil {
				if isUniqueViolation(err) {
					continue
				}
				return err
			}
			p.ID = id
			out.Added = append(out.Added, p)
		}

		for _, p := range current {
			if seen[p.ChannelID] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, p.ID); err != nil {
				return err
			}
			out.Removed = append(out.Removed, p)
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	return out, nil
}

func (s *Store) queryProjects(ctx context.Context, q querier, query string, args ...any) ([]domain.Project, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		var (
			p       domain.Project
			created string
		)
		if err := rows.Scan(&p.ID, &p.PartnerID, &p.Name, &p.ChannelID, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

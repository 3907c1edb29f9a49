package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/vaultic/skillbridge/internal/descriptor"
)

// ErrSkillNotFound is returned when no skill exists for an id or slug.
var ErrSkillNotFound = errors.New("skill not found")

// SaveSkill upserts a skill descriptor. Operations are stored as jsonb.
func (s *Store) SaveSkill(ctx context.Context, d *descriptor.SkillDescriptor) error {
	ops, err := json.Marshal(d.Operations)
	if err != nil {
		return fmt.Errorf("marshal operations: %w", err)
	}
	now := time.Now()
	_, err = s.db.Exec(ctx, `
		INSERT INTO skills (id, slug, name, description, version, endpoint, operations, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			version = EXCLUDED.version,
			endpoint = EXCLUDED.endpoint,
			operations = EXCLUDED.operations,
			updated_at = EXCLUDED.updated_at`,
		d.ID, d.Slug, d.Name, d.Description, d.Version, d.Endpoint, ops, now,
	)
	if err != nil {
		return fmt.Errorf("save skill %s: %w", d.ID, err)
	}
	return nil
}

// GetSkill retrieves a skill descriptor by ID.
func (s *Store) GetSkill(ctx context.Context, id string) (*descriptor.SkillDescriptor, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, slug, name, description, version, endpoint, operations
		FROM skills WHERE id = $1`, id)
	return scanSkill(row, id)
}

// GetSkillBySlug retrieves a skill descriptor by slug.
func (s *Store) GetSkillBySlug(ctx context.Context, slug string) (*descriptor.SkillDescriptor, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, slug, name, description, version, endpoint, operations
		FROM skills WHERE slug = $1`, slug)
	return scanSkill(row, slug)
}

func scanSkill(row pgx.Row, key string) (*descriptor.SkillDescriptor, error) {
	var d descriptor.SkillDescriptor
	var ops []byte
	err := row.Scan(&d.ID, &d.Slug, &d.Name, &d.Description, &d.Version, &d.Endpoint, &ops)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("skill %s: %w", key, ErrSkillNotFound)
		}
		return nil, fmt.Errorf("get skill %s: %w", key, err)
	}
	if len(ops) > 0 {
		if err := json.Unmarshal(ops, &d.Operations); err != nil {
			return nil, fmt.Errorf("parse operations for %s: %w", key, err)
		}
	}
	return &d, nil
}

// ListSkills returns all registered skill descriptors.
func (s *Store) ListSkills(ctx context.Context) ([]*descriptor.SkillDescriptor, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, slug, name, description, version, endpoint, operations
		FROM skills ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var skills []*descriptor.SkillDescriptor
	for rows.Next() {
		var d descriptor.SkillDescriptor
		var ops []byte
		if err := rows.Scan(&d.ID, &d.Slug, &d.Name, &d.Description, &d.Version, &d.Endpoint, &ops); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		if len(ops) > 0 {
			if err := json.Unmarshal(ops, &d.Operations); err != nil {
				return nil, fmt.Errorf("parse operations: %w", err)
			}
		}
		skills = append(skills, &d)
	}
	return skills, nil
}

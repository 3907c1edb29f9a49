package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/vaultic/skillbridge/internal/policy"
)

// SaveAttachment inserts a new agent-skill attachment.
func (s *Store) SaveAttachment(ctx context.Context, a *policy.Attachment) error {
	perms, err := json.Marshal(a.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	now := time.Now()
	_, err = s.db.Exec(ctx, `
		INSERT INTO attachments (id, skill_id, agent_id, owner_id, token_hash, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		a.ID, a.SkillID, a.AgentID, a.OwnerID, a.TokenHash, perms, now,
	)
	if err != nil {
		return fmt.Errorf("save attachment %s: %w", a.ID, err)
	}
	return nil
}

// GetAttachment retrieves an attachment by ID. A missing row is reported
// as policy.ErrAttachmentNotFound.
func (s *Store) GetAttachment(ctx context.Context, id string) (*policy.Attachment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, skill_id, agent_id, owner_id, token_hash, permissions, created_at, updated_at
		FROM attachments WHERE id = $1`, id)

	var a policy.Attachment
	var perms []byte
	err := row.Scan(&a.ID, &a.SkillID, &a.AgentID, &a.OwnerID, &a.TokenHash, &perms, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("attachment %s: %w", id, policy.ErrAttachmentNotFound)
		}
		return nil, fmt.Errorf("get attachment %s: %w", id, err)
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &a.Permissions); err != nil {
			return nil, fmt.Errorf("parse permissions for %s: %w", id, err)
		}
	}
	if a.Permissions == nil {
		a.Permissions = policy.PermissionMap{}
	}
	return &a, nil
}

// UpdatePermissions replaces an attachment's permission map in a single
// row-level write, so concurrent resolutions never observe a partial map.
func (s *Store) UpdatePermissions(ctx context.Context, id string, pm policy.PermissionMap) error {
	perms, err := json.Marshal(pm)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE attachments SET permissions = $2, updated_at = NOW() WHERE id = $1`,
		id, perms,
	)
	if err != nil {
		return fmt.Errorf("update permissions %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attachment %s: %w", id, policy.ErrAttachmentNotFound)
	}
	return nil
}

// DeleteAttachment removes an attachment. Audit records keep the
// attachment id for historical reference; nothing cascades.
func (s *Store) DeleteAttachment(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attachment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attachment %s: %w", id, policy.ErrAttachmentNotFound)
	}
	return nil
}

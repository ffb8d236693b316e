package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/linkora/realtime/internal/logger"
	"github.com/linkora/realtime/internal/model"
)

type GroupRepository struct {
	pool *pgxpool.Pool
}

func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

func (r *GroupRepository) Create(ctx context.Context, g *model.Group) error {
	defer logger.DeferLogDuration("group.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO groups (id, name, description, avatar_url, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, g.Name, g.Description, g.AvatarURL, g.CreatedBy, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("groupRepo.Create: %w", err)
	}
	return nil
}

func (r *GroupRepository) GetByID(ctx context.Context, id string) (*model.Group, error) {
	defer logger.DeferLogDuration("group.GetByID", time.Now())()
	g := &model.Group{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(description,''), avatar_url, created_by, created_at
		 FROM groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.AvatarURL, &g.CreatedBy, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("groupRepo.GetByID: %w", err)
	}
	return g, nil
}

func (r *GroupRepository) AddMember(ctx context.Context, m *model.GroupMember) error {
	defer logger.DeferLogDuration("group.AddMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id, role, joined_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		m.GroupID, m.UserID, m.Role, m.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("groupRepo.AddMember: %w", err)
	}
	return nil
}

func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	defer logger.DeferLogDuration("group.RemoveMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("groupRepo.RemoveMember: %w", err)
	}
	return nil
}

// GetMemberIDs возвращает актуальный список участников группы. Вызывается в момент
// fan-out, а не при создании сообщения: состав группы читается свежим.
func (r *GroupRepository) GetMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	defer logger.DeferLogDuration("group.GetMemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1`, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.GetMemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("groupRepo.GetMemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groupRepo.GetMemberIDs rows: %w", err)
	}
	return ids, nil
}

func (r *GroupRepository) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	defer logger.DeferLogDuration("group.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("groupRepo.IsMember: %w", err)
	}
	return exists, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/linkora/realtime/internal/logger"
	"github.com/linkora/realtime/internal/model"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// Set ставит реакцию пользователя на сообщение. У пользователя не больше одной
// реакции на сообщение: повторная реакция заменяет предыдущий emoji (last write wins).
func (r *ReactionRepository) Set(ctx context.Context, messageID, userID, emoji string) error {
	defer logger.DeferLogDuration("reaction.Set", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (message_id, user_id)
		 DO UPDATE SET emoji = EXCLUDED.emoji, created_at = NOW()`,
		messageID, userID, emoji,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Set: %w", err)
	}
	return nil
}

// Remove снимает реакцию пользователя (любой emoji).
func (r *ReactionRepository) Remove(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2`,
		messageID, userID,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Remove: %w", err)
	}
	return nil
}

func (r *ReactionRepository) GetByMessage(ctx context.Context, messageID string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.GetByMessage", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT mr.message_id, mr.user_id, mr.emoji, u.username, mr.created_at
		 FROM message_reactions mr
		 JOIN users u ON u.id = mr.user_id
		 WHERE mr.message_id = $1
		 ORDER BY mr.created_at`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.GetByMessage query: %w", err)
	}
	defer rows.Close()

	reactions := make([]model.Reaction, 0, 8)
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageID, &rc.UserID, &rc.Emoji, &rc.Username, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.GetByMessage scan: %w", err)
		}
		reactions = append(reactions, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.GetByMessage rows: %w", err)
	}
	return reactions, nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/linkora/realtime/internal/logger"
	"github.com/linkora/realtime/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const msgCols = `m.id, m.from_user, COALESCE(m.to_user,''), COALESCE(m.group_id,''), m.kind, m.text,
	m.media, m.shared, m.location, m.contact,
	m.seen, m.delivered, m.reply_to_id, m.forwarded_from,
	m.edited_at, m.is_deleted, m.deleted_at, m.created_at,
	u.id, u.username, u.avatar_url, COALESCE(u.headline,''), u.is_online, u.last_seen_at`

// scanMessage сканирует строку в model.Message (порядок соответствует msgCols).
// JSON-поля payload хранятся как JSONB и декодируются здесь.
func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	var media, shared, location, contact []byte
	sender := &model.UserPublic{}
	err := s.Scan(&m.ID, &m.FromUser, &m.ToUser, &m.GroupID, &m.Kind, &m.Text,
		&media, &shared, &location, &contact,
		&m.Seen, &m.Delivered, &m.ReplyToID, &m.ForwardedFrom,
		&m.EditedAt, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt,
		&sender.ID, &sender.Username, &sender.AvatarURL, &sender.Headline, &sender.IsOnline, &sender.LastSeenAt)
	if err != nil {
		return err
	}
	m.Sender = sender
	if len(media) > 0 {
		if err := json.Unmarshal(media, &m.Media); err != nil {
			return fmt.Errorf("decode media: %w", err)
		}
	}
	if len(shared) > 0 {
		if err := json.Unmarshal(shared, &m.Shared); err != nil {
			return fmt.Errorf("decode shared: %w", err)
		}
	}
	if len(location) > 0 {
		if err := json.Unmarshal(location, &m.Location); err != nil {
			return fmt.Errorf("decode location: %w", err)
		}
	}
	if len(contact) > 0 {
		if err := json.Unmarshal(contact, &m.Contact); err != nil {
			return fmt.Errorf("decode contact: %w", err)
		}
	}
	suppressDeleted(m)
	return nil
}

// suppressDeleted скрывает payload мягко удалённого сообщения при чтении.
// Запись остаётся (ссылки reply_to не ломаются), контент не отдаётся.
func suppressDeleted(m *model.Message) {
	if !m.IsDeleted {
		return
	}
	m.Text = ""
	m.Media = nil
	m.Shared = nil
	m.Location = nil
	m.Contact = nil
}

// Create сохраняет новое сообщение. Адресат (to_user xor group_id) проверяется
// CHECK-ограничением в БД и после вставки не меняется.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()

	var toUser, groupID any
	if m.ToUser != "" {
		toUser = m.ToUser
	}
	if m.GroupID != "" {
		groupID = m.GroupID
	}
	media, err := encodeMaybe(m.Media)
	if err != nil {
		return fmt.Errorf("msgRepo.Create media: %w", err)
	}
	shared, err := encodeMaybe(m.Shared)
	if err != nil {
		return fmt.Errorf("msgRepo.Create shared: %w", err)
	}
	location, err := encodeMaybe(m.Location)
	if err != nil {
		return fmt.Errorf("msgRepo.Create location: %w", err)
	}
	contact, err := encodeMaybe(m.Contact)
	if err != nil {
		return fmt.Errorf("msgRepo.Create contact: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO messages (id, from_user, to_user, group_id, kind, text,
		        media, shared, location, contact,
		        reply_to_id, forwarded_from, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.FromUser, toUser, groupID, m.Kind, m.Text,
		media, shared, location, contact,
		m.ReplyToID, m.ForwardedFrom, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// encodeMaybe кодирует payload-структуру в JSONB или nil, если поле не задано.
func encodeMaybe[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.from_user
		 WHERE m.id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListConversation возвращает историю переписки двух пользователей, новые сначала.
// before — курсор по created_at (нулевое время = с самого нового).
func (r *MessageRepository) ListConversation(ctx context.Context, userA, userB string, limit int, before time.Time) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListConversation", time.Now())()
	if before.IsZero() {
		before = time.Now().UTC().Add(time.Minute)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.from_user
		 WHERE m.group_id IS NULL
		   AND ((m.from_user = $1 AND m.to_user = $2) OR (m.from_user = $2 AND m.to_user = $1))
		   AND m.created_at < $3
		 ORDER BY m.created_at DESC
		 LIMIT $4`, userA, userB, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListConversation query: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows, limit, "msgRepo.ListConversation")
}

// ListGroup возвращает историю группового чата, новые сначала.
func (r *MessageRepository) ListGroup(ctx context.Context, groupID string, limit int, before time.Time) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListGroup", time.Now())()
	if before.IsZero() {
		before = time.Now().UTC().Add(time.Minute)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.from_user
		 WHERE m.group_id = $1 AND m.created_at < $2
		 ORDER BY m.created_at DESC
		 LIMIT $3`, groupID, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListGroup query: %w", err)
	}
	defer rows.Close()
	messages, err := collectMessages(rows, limit, "msgRepo.ListGroup")
	if err != nil {
		return nil, err
	}
	if err := r.attachSeenBy(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// attachSeenBy подтягивает per-member отметки прочтения к странице групповых
// сообщений (seen_by отдаётся только в групповых выборках).
func (r *MessageRepository) attachSeenBy(ctx context.Context, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]string, len(messages))
	for i := range messages {
		ids[i] = messages[i].ID
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, user_id FROM message_seen
		 WHERE message_id = ANY($1) ORDER BY seen_at`, ids,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.attachSeenBy query: %w", err)
	}
	defer rows.Close()

	seen := make(map[string][]string, len(ids))
	for rows.Next() {
		var mid, uid string
		if err := rows.Scan(&mid, &uid); err != nil {
			return fmt.Errorf("msgRepo.attachSeenBy scan: %w", err)
		}
		seen[mid] = append(seen[mid], uid)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("msgRepo.attachSeenBy rows: %w", err)
	}
	for i := range messages {
		messages[i].SeenBy = seen[messages[i].ID]
	}
	return nil
}

func collectMessages(rows pgx.Rows, limit int, op string) ([]model.Message, error) {
	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return messages, nil
}

// MarkSeenFrom помечает прочитанными все личные сообщения от sender к reader.
func (r *MessageRepository) MarkSeenFrom(ctx context.Context, sender, reader string) error {
	defer logger.DeferLogDuration("msg.MarkSeenFrom", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET seen = true
		 WHERE from_user = $1 AND to_user = $2 AND seen = false`,
		sender, reader,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkSeenFrom: %w", err)
	}
	return nil
}

// MarkSeenGroup отмечает все сообщения группы прочитанными участником (per-member seen-set).
func (r *MessageRepository) MarkSeenGroup(ctx context.Context, groupID, userID string) error {
	defer logger.DeferLogDuration("msg.MarkSeenGroup", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_seen (message_id, user_id, seen_at)
		 SELECT id, $2, NOW() FROM messages
		 WHERE group_id = $1 AND from_user != $2
		 ON CONFLICT DO NOTHING`,
		groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkSeenGroup: %w", err)
	}
	return nil
}

// MarkDelivered помечает сообщение доставленным (хотя бы один live-канал принял push).
func (r *MessageRepository) MarkDelivered(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.MarkDelivered", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET delivered = true WHERE id = $1 AND delivered = false`, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkDelivered: %w", err)
	}
	return nil
}

// EditText изменяет текст сообщения и устанавливает edited_at.
func (r *MessageRepository) EditText(ctx context.Context, id, text string, editedAt time.Time) error {
	defer logger.DeferLogDuration("msg.EditText", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET text = $1, edited_at = $2 WHERE id = $3`,
		text, editedAt, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.EditText: %w", err)
	}
	return nil
}

// SoftDelete помечает сообщение удалённым; запись остаётся, payload скрывается при чтении.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_deleted = true, deleted_at = NOW() WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	return nil
}

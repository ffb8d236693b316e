package model

import "time"

type MessageKind string

const (
	KindText          MessageKind = "text"
	KindImage         MessageKind = "image"
	KindVideo         MessageKind = "video"
	KindVoice         MessageKind = "voice"
	KindDocument      MessageKind = "document"
	KindSharedPost    MessageKind = "shared_post"
	KindSharedReel    MessageKind = "shared_reel"
	KindSharedArticle MessageKind = "shared_article"
	KindLocation      MessageKind = "location"
	KindContact       MessageKind = "contact"
)

// Valid reports whether k is one of the supported message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindVoice, KindDocument,
		KindSharedPost, KindSharedReel, KindSharedArticle, KindLocation, KindContact:
		return true
	}
	return false
}

// Media заполняется для image/video/voice/document.
type Media struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Duration int    `json:"duration,omitempty"` // seconds, voice/video only
}

// SharedRef — ссылка на пост/рил/статью для shared_* сообщений.
type SharedRef struct {
	RefID    string `json:"ref_id"`
	Title    string `json:"title,omitempty"`
	Preview  string `json:"preview,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	OwnerID  string `json:"owner_id,omitempty"`
}

// Location — координаты для kind=location.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Contact — карточка контакта для kind=contact.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Message — сообщение между двумя пользователями или в группе.
// Адресат (ToUser xor GroupID) неизменяем после создания; мутируют только
// флаги состояния и реакции.
type Message struct {
	ID       string      `json:"id"`
	FromUser string      `json:"from_user"`
	ToUser   string      `json:"to_user,omitempty"`
	GroupID  string      `json:"group_id,omitempty"`
	Kind     MessageKind `json:"kind"`
	Text     string      `json:"text,omitempty"`

	Media    *Media     `json:"media,omitempty"`
	Shared   *SharedRef `json:"shared,omitempty"`
	Location *Location  `json:"location,omitempty"`
	Contact  *Contact   `json:"contact,omitempty"`

	Seen      bool     `json:"seen"`
	Delivered bool     `json:"delivered"`
	SeenBy    []string `json:"seen_by,omitempty"` // group messages only

	ReplyToID     *string `json:"reply_to_id,omitempty"`
	ForwardedFrom *string `json:"forwarded_from,omitempty"`

	EditedAt  *time.Time `json:"edited_at,omitempty"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	Sender    *UserPublic `json:"sender,omitempty"`
	ReplyTo   *Message    `json:"reply_to,omitempty"`
	Reactions []Reaction  `json:"reactions,omitempty"`
}

// IsGroup reports whether the message targets a group chat.
func (m *Message) IsGroup() bool { return m.GroupID != "" }

type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

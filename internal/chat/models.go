package chat

import "time"

const (
	SenderUser = "user"
	SenderBot  = "bot"

	DefaultChatTitle = "New Chat"
)

type Chat struct {
	ID             string    `gorm:"primaryKey;size:26" json:"id"`
	UserID         string    `gorm:"size:36;not null;index:idx_chats_user_created,priority:1;uniqueIndex:uniq_chats_user_seq,priority:1" json:"user_id"`
	Title          string    `gorm:"type:varchar(255);not null" json:"title"`
	SequenceNumber int       `gorm:"not null;uniqueIndex:uniq_chats_user_seq,priority:2" json:"sequence_number"`
	CreatedAt      time.Time `gorm:"index:idx_chats_user_created,priority:2" json:"created_at"`
}

func (Chat) TableName() string { return "chats" }

type Message struct {
	ID        string    `gorm:"primaryKey;size:26" json:"id"`
	ChatID    string    `gorm:"size:26;not null;index:idx_chat_msg_chat_created,priority:1" json:"chat_id"`
	UserID    string    `gorm:"size:36;not null;index" json:"user_id"`
	Sender    string    `gorm:"type:varchar(8);not null" json:"sender"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_chat_msg_chat_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Profile is keyed by the owning user, so each user has at most one.
type Profile struct {
	UserID    string    `gorm:"primaryKey;size:36" json:"user_id"`
	Username  *string   `gorm:"type:varchar(64)" json:"username"`
	AvatarURL *string   `gorm:"type:varchar(512)" json:"avatar_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

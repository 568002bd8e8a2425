package chatsync

import "context"

// ProfileStore is the profiles collection.
type ProfileStore interface {
	// GetProfile returns ErrNotFound when the owner has no profile.
	GetProfile(ctx context.Context, owner string) (Profile, error)
	// CreateProfile inserts an empty profile and returns ErrConflict when one already exists.
	CreateProfile(ctx context.Context, owner string) (Profile, error)
	// UpsertProfile writes the non-nil fields of p, creating the profile if needed.
	UpsertProfile(ctx context.Context, p Profile) (Profile, error)
}

// ChatStore is the chats collection.
type ChatStore interface {
	// ListChats returns the owner's chats, newest first.
	ListChats(ctx context.Context, owner string) ([]ChatSession, error)
	CreateChat(ctx context.Context, owner string) (ChatSession, error)
	RenameChat(ctx context.Context, chatID, title string) (ChatSession, error)
	DeleteChat(ctx context.Context, chatID string) error
}

// MessageStore is the chat_messages collection.
type MessageStore interface {
	// ListMessages returns a chat's messages, oldest first.
	ListMessages(ctx context.Context, chatID string) ([]ChatMessage, error)
	InsertMessage(ctx context.Context, m ChatMessage) (ChatMessage, error)
	DeleteMessages(ctx context.Context, chatID string) error
}

type Store interface {
	ProfileStore
	ChatStore
	MessageStore
}

type UserUpdate struct {
	Email    string
	Password string
}

type Auth interface {
	SignIn(ctx context.Context, email, password string) (UserIdentity, error)
	SignUp(ctx context.Context, email, password string) (UserIdentity, error)
	SignOut(ctx context.Context) error
	UpdateUser(ctx context.Context, u UserUpdate) (UserIdentity, error)
}

// Completer turns user text into an assistant reply.
type Completer interface {
	Complete(ctx context.Context, message string) (string, error)
}

// ChatCompleter is an optional Completer extension. When the configured
// Completer implements it, replies are produced with the chat's stored
// history as context. The history already holds the message being answered.
type ChatCompleter interface {
	CompleteInChat(ctx context.Context, chatID, message string) (string, error)
}

type ObjectStorage interface {
	Upload(ctx context.Context, fileName string, data []byte) (publicURL string, err error)
}

package chatsync

import (
	"slices"
	"time"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// FallbackReply is shown in place of a bot reply that could not be produced or saved.
const FallbackReply = "Sorry, something went wrong. Please try again."

type UserIdentity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type ChatSession struct {
	ID             string    `json:"id"`
	Owner          string    `json:"user_id"`
	Title          string    `json:"title"`
	SequenceNumber int       `json:"sequence_number"`
	CreatedAt      time.Time `json:"created_at"`
}

type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	ChatID    string    `json:"chat_id"`
	Owner     string    `json:"user_id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`

	// Local marks a message that only exists in the projection.
	Local bool `json:"-"`
}

type Profile struct {
	Owner     string    `json:"user_id"`
	Username  *string   `json:"username"`
	AvatarURL *string   `json:"avatar_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State is the in-memory projection of one signed-in user's data.
// Operations never modify a State's slices in place, so a State value
// handed out earlier stays valid after later operations.
type State struct {
	User         *UserIdentity
	Chats        []ChatSession // CreatedAt descending
	ActiveChatID string
	Messages     []ChatMessage // CreatedAt ascending, ActiveChatID only
	Profile      *Profile

	initialChatEnsured bool
	selection          uint64
}

// NewState returns the projection for a freshly authenticated user.
func NewState(user UserIdentity) State {
	return State{User: &user}
}

func (s State) ActiveChat() (ChatSession, bool) {
	i := s.chatIndex(s.ActiveChatID)
	if i < 0 {
		return ChatSession{}, false
	}
	return s.Chats[i], true
}

// Selection counts how many times the active chat has been set. A message
// fetch started under one selection must not be applied under another.
func (s State) Selection() uint64 {
	return s.selection
}

func (s State) chatIndex(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.Chats, func(c ChatSession) bool { return c.ID == id })
}

func (s State) setActive(id string) State {
	s.ActiveChatID = id
	s.Messages = nil
	s.selection++
	return s
}

// appendMessage adds m if it belongs to the active chat and is not already
// there (a history load may have picked up a saved message first).
func (s State) appendMessage(m ChatMessage) State {
	if m.ChatID != s.ActiveChatID {
		return s
	}
	if m.ID != "" && slices.ContainsFunc(s.Messages, func(x ChatMessage) bool { return x.ID == m.ID }) {
		return s
	}
	msgs := make([]ChatMessage, len(s.Messages), len(s.Messages)+1)
	copy(msgs, s.Messages)
	s.Messages = append(msgs, m)
	return s
}

// MessagePage is the result of fetching one chat's history.
type MessagePage struct {
	ChatID   string
	Messages []ChatMessage
}

// ApplyMessages replaces Messages with the page when it belongs to the
// active chat. It reports false and leaves the state untouched otherwise.
func (s State) ApplyMessages(p MessagePage) (State, bool) {
	if p.ChatID == "" || p.ChatID != s.ActiveChatID {
		return s, false
	}
	s.Messages = p.Messages
	return s, true
}

func sortChats(chats []ChatSession) {
	slices.SortStableFunc(chats, func(a, b ChatSession) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

func sortMessages(msgs []ChatMessage) {
	slices.SortStableFunc(msgs, func(a, b ChatMessage) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

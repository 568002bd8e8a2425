// Package chatsync keeps a signed-in user's chats, the active chat's
// messages and the profile in step with the remote store.
//
// Every operation takes the current State and returns the next one. Local
// projections change only after the remote call they mirror has succeeded;
// the one exception is the fallback bot reply appended by SendMessage, which
// is never written to the store.
package chatsync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type Synchronizer struct {
	store     Store
	completer Completer
	auth      Auth
	storage   ObjectStorage
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Synchronizer)

func WithAuth(a Auth) Option {
	return func(s *Synchronizer) { s.auth = a }
}

func WithObjectStorage(o ObjectStorage) Option {
	return func(s *Synchronizer) { s.storage = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store Store, completer Completer, opts ...Option) (*Synchronizer, error) {
	if store == nil {
		return nil, errors.New("chatsync: store must not be nil")
	}
	if completer == nil {
		return nil, errors.New("chatsync: completer must not be nil")
	}
	s := &Synchronizer{
		store:     store,
		completer: completer,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     func() string { return strings.ToLower(ulid.Make().String()) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadProfile fetches the user's profile, creating an empty one on first access.
func (s *Synchronizer) LoadProfile(ctx context.Context, st State) (State, error) {
	if st.User == nil {
		return st, nil
	}
	p, err := s.fetchOrCreateProfile(ctx, st.User.ID)
	if err != nil {
		s.logger.Error("load profile failed", slog.String("user_id", st.User.ID), slog.Any("err", err))
		return st, remoteErr("load_profile", err)
	}
	st.Profile = &p
	return st, nil
}

func (s *Synchronizer) fetchOrCreateProfile(ctx context.Context, owner string) (Profile, error) {
	p, err := s.store.GetProfile(ctx, owner)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Profile{}, err
	}

	p, err = s.store.CreateProfile(ctx, owner)
	if err == nil {
		return p, nil
	}
	// a concurrent load created it first
	if errors.Is(err, ErrConflict) {
		return s.store.GetProfile(ctx, owner)
	}
	return Profile{}, err
}

// LoadChats replaces the chat list. When no chat is active, the newest one becomes active.
func (s *Synchronizer) LoadChats(ctx context.Context, st State) (State, error) {
	if st.User == nil {
		return st, nil
	}
	chats, err := s.store.ListChats(ctx, st.User.ID)
	if err != nil {
		s.logger.Error("load chats failed", slog.String("user_id", st.User.ID), slog.Any("err", err))
		return st, remoteErr("load_chats", err)
	}
	sortChats(chats)
	st.Chats = chats

	if st.chatIndex(st.ActiveChatID) < 0 {
		next := ""
		if len(chats) > 0 {
			next = chats[0].ID
		}
		if next != st.ActiveChatID {
			st = st.setActive(next)
		}
	}
	return st, nil
}

// EnsureInitialChat creates a first chat for a user who has none. Once the
// user has a chat it does nothing for the rest of the login; a failed create
// leaves it armed so the next call tries again.
func (s *Synchronizer) EnsureInitialChat(ctx context.Context, st State) (State, error) {
	if st.User == nil || st.initialChatEnsured {
		return st, nil
	}
	if len(st.Chats) > 0 {
		st.initialChatEnsured = true
		return st, nil
	}
	next, err := s.CreateChat(ctx, st)
	if err != nil {
		return st, err
	}
	next.initialChatEnsured = true
	return next, nil
}

// FetchMessages reads a chat's history without touching any State.
func (s *Synchronizer) FetchMessages(ctx context.Context, chatID string) (MessagePage, error) {
	msgs, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		s.logger.Error("load messages failed", slog.String("chat_id", chatID), slog.Any("err", err))
		return MessagePage{}, remoteErr("load_messages", err)
	}
	sortMessages(msgs)
	return MessagePage{ChatID: chatID, Messages: msgs}, nil
}

// LoadMessages replaces Messages with chatID's history if chatID is still active.
func (s *Synchronizer) LoadMessages(ctx context.Context, st State, chatID string) (State, error) {
	if st.User == nil || chatID == "" {
		return st, nil
	}
	page, err := s.FetchMessages(ctx, chatID)
	if err != nil {
		return st, err
	}
	next, ok := st.ApplyMessages(page)
	if !ok {
		s.logger.Debug("discarding messages for inactive chat",
			slog.String("chat_id", chatID),
			slog.String("active_chat_id", st.ActiveChatID),
		)
	}
	return next, nil
}

// SelectChat makes chatID active and loads its history.
func (s *Synchronizer) SelectChat(ctx context.Context, st State, chatID string) (State, error) {
	next, err := selectChat(st, chatID)
	if err != nil || next.User == nil {
		return next, err
	}
	return s.LoadMessages(ctx, next, chatID)
}

// selectChat switches the active chat without loading anything. Without a
// user it is a no-op; a chat missing from the local list is NotFound.
func selectChat(st State, chatID string) (State, error) {
	if st.User == nil {
		return st, nil
	}
	if st.chatIndex(chatID) < 0 {
		return st, &Error{Kind: KindNotFound, Op: "select_chat", Err: ErrUnknownChat}
	}
	return st.setActive(chatID), nil
}

// CreateChat inserts a new chat and makes it active.
func (s *Synchronizer) CreateChat(ctx context.Context, st State) (State, error) {
	if st.User == nil {
		return st, nil
	}
	chat, err := s.store.CreateChat(ctx, st.User.ID)
	if err != nil {
		s.logger.Error("create chat failed", slog.String("user_id", st.User.ID), slog.Any("err", err))
		return st, remoteErr("create_chat", err)
	}

	chats := make([]ChatSession, 0, len(st.Chats)+1)
	chats = append(chats, chat)
	st.Chats = append(chats, st.Chats...)
	return st.setActive(chat.ID), nil
}

// DeleteChat removes a chat's messages and then the chat itself. The
// order leaves at worst an empty chat behind, never orphaned messages.
func (s *Synchronizer) DeleteChat(ctx context.Context, st State, chatID string) (State, error) {
	if st.User == nil || chatID == "" {
		return st, nil
	}
	if err := s.store.DeleteMessages(ctx, chatID); err != nil {
		s.logger.Error("delete chat messages failed", slog.String("chat_id", chatID), slog.Any("err", err))
		return st, remoteErr("delete_chat", err)
	}
	if err := s.store.DeleteChat(ctx, chatID); err != nil {
		s.logger.Error("delete chat failed", slog.String("chat_id", chatID), slog.Any("err", err))
		if st.ActiveChatID == chatID {
			st.Messages = nil
		}
		return st, remoteErr("delete_chat", err)
	}

	wasActive := st.ActiveChatID == chatID
	remaining := make([]ChatSession, 0, len(st.Chats))
	for _, c := range st.Chats {
		if c.ID != chatID {
			remaining = append(remaining, c)
		}
	}
	st.Chats = remaining
	if !wasActive {
		return st, nil
	}

	if len(remaining) > 0 {
		return st.setActive(remaining[0].ID), nil
	}
	return s.CreateChat(ctx, st.setActive(""))
}

// RenameChat sets a chat's title. Blank titles are ignored.
func (s *Synchronizer) RenameChat(ctx context.Context, st State, chatID, title string) (State, error) {
	title = strings.TrimSpace(title)
	if st.User == nil || chatID == "" || title == "" {
		return st, nil
	}
	renamed, err := s.store.RenameChat(ctx, chatID, title)
	if err != nil {
		s.logger.Error("rename chat failed", slog.String("chat_id", chatID), slog.Any("err", err))
		return st, remoteErr("rename_chat", err)
	}
	if renamed.Title == "" {
		renamed.Title = title
	}

	chats := make([]ChatSession, len(st.Chats))
	copy(chats, st.Chats)
	for i := range chats {
		if chats[i].ID == chatID {
			chats[i].Title = renamed.Title
		}
	}
	st.Chats = chats
	return st, nil
}

// SendMessage persists the user's message, asks for a reply and persists
// that too. A reply that cannot be produced or saved is replaced by a
// local-only FallbackReply; only a failure to save the user's own message
// is returned as an error.
func (s *Synchronizer) SendMessage(ctx context.Context, st State, chatID, content string) (State, error) {
	st, pending, err := s.PostUserMessage(ctx, st, chatID, content)
	if err != nil || pending == nil {
		return st, err
	}
	return st.appendMessage(s.Reply(ctx, *pending)), nil
}

// PendingReply is a saved user message still waiting for its bot reply.
type PendingReply struct {
	ChatID  string
	Owner   string
	Content string
}

// PostUserMessage is the first half of SendMessage: it saves and appends the
// user's message. pending is nil when there is nothing to answer.
func (s *Synchronizer) PostUserMessage(ctx context.Context, st State, chatID, content string) (State, *PendingReply, error) {
	if st.User == nil || chatID == "" || strings.TrimSpace(content) == "" {
		return st, nil, nil
	}
	owner := st.User.ID

	userMsg, err := s.store.InsertMessage(ctx, ChatMessage{
		ChatID:    chatID,
		Owner:     owner,
		Content:   content,
		Sender:    SenderUser,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.logger.Error("save user message failed", slog.String("chat_id", chatID), slog.Any("err", err))
		return st, nil, remoteErr("send_message", err)
	}
	return st.appendMessage(userMsg), &PendingReply{ChatID: chatID, Owner: owner, Content: content}, nil
}

// Reply is the second half of SendMessage. It touches no State, so callers
// may run it without holding whatever guards their State. The result is
// either the saved bot message or the local fallback.
func (s *Synchronizer) Reply(ctx context.Context, p PendingReply) ChatMessage {
	reply, err := s.complete(ctx, p.ChatID, p.Content)
	if err != nil {
		s.logger.Warn("completion failed", slog.String("chat_id", p.ChatID), slog.Any("err", err))
		return s.fallback(p.ChatID, p.Owner)
	}

	botMsg, err := s.store.InsertMessage(ctx, ChatMessage{
		ChatID:    p.ChatID,
		Owner:     p.Owner,
		Content:   reply,
		Sender:    SenderBot,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.logger.Error("save bot message failed", slog.String("chat_id", p.ChatID), slog.Any("err", err))
		return s.fallback(p.ChatID, p.Owner)
	}
	return botMsg
}

func (s *Synchronizer) complete(ctx context.Context, chatID, content string) (string, error) {
	if hc, ok := s.completer.(ChatCompleter); ok {
		return hc.CompleteInChat(ctx, chatID, content)
	}
	return s.completer.Complete(ctx, content)
}

func (s *Synchronizer) fallback(chatID, owner string) ChatMessage {
	return ChatMessage{
		ChatID:    chatID,
		Owner:     owner,
		Content:   FallbackReply,
		Sender:    SenderBot,
		CreatedAt: s.now(),
		Local:     true,
	}
}

// ClearChat deletes a chat's messages but keeps the chat.
func (s *Synchronizer) ClearChat(ctx context.Context, st State, chatID string) (State, error) {
	if st.User == nil || chatID == "" {
		return st, nil
	}
	if err := s.store.DeleteMessages(ctx, chatID); err != nil {
		s.logger.Error("clear chat failed", slog.String("chat_id", chatID), slog.Any("err", err))
		return st, remoteErr("clear_chat", err)
	}
	if st.ActiveChatID == chatID {
		st.Messages = nil
	}
	return st, nil
}

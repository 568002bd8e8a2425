package chatsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Session serializes user intents against one State. Each intent runs to
// completion under the lock, with two exceptions: message history loads and
// assistant replies are produced outside it and applied only if their chat
// is still the active one.
type Session struct {
	sync   *Synchronizer
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

func NewSession(s *Synchronizer) *Session {
	return &Session{sync: s, logger: s.logger}
}

// State returns a snapshot of the current projection.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SignIn(ctx context.Context, email, password string) error {
	st, err := s.sync.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	s.reset(st)
	return s.Open(ctx)
}

func (s *Session) SignUp(ctx context.Context, email, password string) error {
	st, err := s.sync.SignUp(ctx, email, password)
	if err != nil {
		return err
	}
	s.reset(st)
	return s.Open(ctx)
}

func (s *Session) SignOut(ctx context.Context) error {
	return s.do(ctx, func(st State) (State, error) {
		return s.sync.SignOut(ctx, st)
	})
}

func (s *Session) reset(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Open loads the profile and chat list after sign-in, creates the first
// chat if the user has none and loads the active chat's history.
func (s *Session) Open(ctx context.Context) error {
	var errs []error
	err := s.do(ctx, func(st State) (State, error) {
		next, err := s.sync.LoadProfile(ctx, st)
		if err != nil {
			errs = append(errs, err)
		}
		next, err = s.sync.LoadChats(ctx, next)
		if err != nil {
			return next, err
		}
		return s.sync.EnsureInitialChat(ctx, next)
	})
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Session) NewChat(ctx context.Context) error {
	return s.do(ctx, func(st State) (State, error) {
		return s.sync.CreateChat(ctx, st)
	})
}

func (s *Session) SelectChat(ctx context.Context, chatID string) error {
	return s.do(ctx, func(st State) (State, error) {
		return selectChat(st, chatID)
	})
}

func (s *Session) RenameChat(ctx context.Context, chatID, title string) error {
	return s.do(ctx, func(st State) (State, error) {
		return s.sync.RenameChat(ctx, st, chatID, title)
	})
}

func (s *Session) DeleteChat(ctx context.Context, chatID string) error {
	return s.do(ctx, func(st State) (State, error) {
		return s.sync.DeleteChat(ctx, st, chatID)
	})
}

// ClearChat empties the active chat.
func (s *Session) ClearChat(ctx context.Context) error {
	return s.do(ctx, func(st State) (State, error) {
		return s.sync.ClearChat(ctx, st, st.ActiveChatID)
	})
}

// Send posts content to the active chat. Only saving the user's message
// holds the session lock; the reply is produced outside it so other intents
// keep working while a completion is pending, and is appended only if its
// chat is active when it arrives.
func (s *Session) Send(ctx context.Context, content string) error {
	var pending *PendingReply
	err := s.do(ctx, func(st State) (State, error) {
		next, p, err := s.sync.PostUserMessage(ctx, st, st.ActiveChatID, content)
		pending = p
		return next, err
	})
	if err != nil || pending == nil {
		return err
	}

	reply := s.sync.Reply(ctx, *pending)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.User == nil || s.state.User.ID != pending.Owner {
		return nil
	}
	s.state = s.state.appendMessage(reply)
	return nil
}

func (s *Session) SaveSettings(ctx context.Context, in Settings) error {
	return s.do(ctx, func(st State) (State, error) {
		return s.sync.SaveSettings(ctx, st, in)
	})
}

// Reload refetches the active chat's history.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	chatID, sel := s.state.ActiveChatID, s.state.selection
	s.mu.Unlock()
	return s.loadMessages(ctx, chatID, sel)
}

func (s *Session) do(ctx context.Context, op func(State) (State, error)) error {
	s.mu.Lock()
	before := s.state.selection
	next, err := op(s.state)
	s.state = next
	chatID, sel := next.ActiveChatID, next.selection
	s.mu.Unlock()

	if sel != before {
		if lerr := s.loadMessages(ctx, chatID, sel); lerr != nil {
			err = errors.Join(err, lerr)
		}
	}
	return err
}

func (s *Session) loadMessages(ctx context.Context, chatID string, sel uint64) error {
	if chatID == "" {
		return nil
	}
	page, err := s.sync.FetchMessages(ctx, chatID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.selection != sel {
		s.logger.Debug("discarding stale messages", slog.String("chat_id", chatID))
		return nil
	}
	if next, ok := s.state.ApplyMessages(page); ok {
		s.state = next
	}
	return nil
}

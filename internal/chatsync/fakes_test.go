package chatsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

var errBoom = errors.New("boom")

// memStore is an in-memory Store that enforces one profile per owner and
// refuses to delete chats that still have messages.
type memStore struct {
	mu       sync.Mutex
	clock    time.Time
	seq      int
	profiles map[string]Profile
	chats    map[string]ChatSession
	messages []ChatMessage

	calls map[string]int
	fail  map[string]error

	// listGate, when set for a chat, blocks ListMessages until closed.
	listGate map[string]chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		clock:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		profiles: map[string]Profile{},
		chats:    map[string]ChatSession{},
		calls:    map[string]int{},
		fail:     map[string]error{},
		listGate: map[string]chan struct{}{},
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) enter(op string) error {
	m.calls[op]++
	return m.fail[op]
}

func (m *memStore) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memStore) failOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = err
}

func (m *memStore) GetProfile(_ context.Context, owner string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetProfile"); err != nil {
		return Profile{}, err
	}
	p, ok := m.profiles[owner]
	if !ok {
		return Profile{}, &RemoteError{Status: 404, Code: 40400, Message: "no rows", Err: ErrNotFound}
	}
	return p, nil
}

func (m *memStore) CreateProfile(_ context.Context, owner string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateProfile"); err != nil {
		return Profile{}, err
	}
	if _, ok := m.profiles[owner]; ok {
		return Profile{}, &RemoteError{Status: 409, Code: 40900, Message: "duplicate key", Err: ErrConflict}
	}
	p := Profile{Owner: owner, UpdatedAt: m.tick()}
	m.profiles[owner] = p
	return p, nil
}

func (m *memStore) UpsertProfile(_ context.Context, p Profile) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpsertProfile"); err != nil {
		return Profile{}, err
	}
	cur := m.profiles[p.Owner]
	cur.Owner = p.Owner
	if p.Username != nil {
		cur.Username = p.Username
	}
	if p.AvatarURL != nil {
		cur.AvatarURL = p.AvatarURL
	}
	cur.UpdatedAt = p.UpdatedAt
	m.profiles[p.Owner] = cur
	return cur, nil
}

func (m *memStore) ListChats(_ context.Context, owner string) ([]ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListChats"); err != nil {
		return nil, err
	}
	var out []ChatSession
	for _, c := range m.chats {
		if c.Owner == owner {
			out = append(out, c)
		}
	}
	sortChats(out)
	return out, nil
}

func (m *memStore) CreateChat(_ context.Context, owner string) (ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateChat"); err != nil {
		return ChatSession{}, err
	}
	m.seq++
	c := ChatSession{
		ID:             fmt.Sprintf("c%d", m.seq),
		Owner:          owner,
		Title:          "New Chat",
		SequenceNumber: m.seq,
		CreatedAt:      m.tick(),
	}
	m.chats[c.ID] = c
	return c, nil
}

func (m *memStore) RenameChat(_ context.Context, chatID, title string) (ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RenameChat"); err != nil {
		return ChatSession{}, err
	}
	c, ok := m.chats[chatID]
	if !ok {
		return ChatSession{}, ErrNotFound
	}
	c.Title = title
	m.chats[chatID] = c
	return c, nil
}

func (m *memStore) DeleteChat(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteChat"); err != nil {
		return err
	}
	for _, msg := range m.messages {
		if msg.ChatID == chatID {
			return ErrConflict
		}
	}
	delete(m.chats, chatID)
	return nil
}

func (m *memStore) ListMessages(ctx context.Context, chatID string) ([]ChatMessage, error) {
	m.mu.Lock()
	gate := m.listGate[chatID]
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListMessages"); err != nil {
		return nil, err
	}
	var out []ChatMessage
	for _, msg := range m.messages {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) InsertMessage(_ context.Context, msg ChatMessage) (ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "InsertMessage:" + string(msg.Sender)
	m.calls["InsertMessage"]++
	if err := m.enter(key); err != nil {
		return ChatMessage{}, err
	}
	if _, ok := m.chats[msg.ChatID]; !ok {
		return ChatMessage{}, ErrNotFound
	}
	m.seq++
	msg.ID = fmt.Sprintf("m%d", m.seq)
	msg.CreatedAt = m.tick()
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *memStore) DeleteMessages(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteMessages"); err != nil {
		return err
	}
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.ChatID != chatID {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

type fakeCompleter struct {
	reply string
	err   error
	got   []string
}

func (f *fakeCompleter) Complete(_ context.Context, message string) (string, error) {
	f.got = append(f.got, message)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeAuth struct {
	user      UserIdentity
	err       error
	signedOut bool
	updates   []UserUpdate
}

func (f *fakeAuth) SignIn(_ context.Context, email, _ string) (UserIdentity, error) {
	if f.err != nil {
		return UserIdentity{}, f.err
	}
	f.user.Email = email
	return f.user, nil
}

func (f *fakeAuth) SignUp(ctx context.Context, email, password string) (UserIdentity, error) {
	return f.SignIn(ctx, email, password)
}

func (f *fakeAuth) SignOut(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.signedOut = true
	return nil
}

func (f *fakeAuth) UpdateUser(_ context.Context, u UserUpdate) (UserIdentity, error) {
	if f.err != nil {
		return UserIdentity{}, f.err
	}
	f.updates = append(f.updates, u)
	if u.Email != "" {
		f.user.Email = u.Email
	}
	return f.user, nil
}

type fakeStorage struct {
	names []string
	err   error
}

func (f *fakeStorage) Upload(_ context.Context, name string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.names = append(f.names, name)
	return "https://cdn.test/avatars/" + name, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var alice = UserIdentity{ID: "u-alice", Email: "alice@example.com"}

package chatsync

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSync(t *testing.T, store *memStore, comp Completer, opts ...Option) *Synchronizer {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	s, err := New(store, comp, opts...)
	require.NoError(t, err)
	return s
}

func requireDescending(t *testing.T, chats []ChatSession) {
	t.Helper()
	for i := 1; i < len(chats); i++ {
		require.True(t, chats[i-1].CreatedAt.After(chats[i].CreatedAt),
			"chat %s (%s) is not newer than %s (%s)",
			chats[i-1].ID, chats[i-1].CreatedAt, chats[i].ID, chats[i].CreatedAt)
	}
}

func TestNew_RequiresCapabilities(t *testing.T) {
	_, err := New(nil, &fakeCompleter{})
	require.Error(t, err)
	_, err = New(newMemStore(), nil)
	require.Error(t, err)
}

func TestLoadProfile_CreatesOnceAndIsIdempotent(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{})
	ctx := context.Background()

	st, err := s.LoadProfile(ctx, NewState(alice))
	require.NoError(t, err)
	require.NotNil(t, st.Profile)
	first := *st.Profile

	st, err = s.LoadProfile(ctx, st)
	require.NoError(t, err)
	require.Equal(t, first, *st.Profile)
	require.Equal(t, 1, store.count("CreateProfile"))
	require.Nil(t, st.Profile.Username)
	require.Nil(t, st.Profile.AvatarURL)
}

func TestLoadProfile_ConcurrentLoadsShareOneProfile(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{})

	const n = 8
	results := make([]State, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.LoadProfile(context.Background(), NewState(alice))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].Profile, results[i].Profile)
	}
	require.Len(t, store.profiles, 1)
}

func TestLoadProfile_ConflictIsRefetched(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{})
	ctx := context.Background()

	// Another device created the profile between our read and our insert.
	store.profiles[alice.ID] = Profile{Owner: alice.ID, UpdatedAt: store.tick()}
	racing := &raceStore{memStore: store, hideProfileOnce: true}
	s.store = racing

	st, err := s.LoadProfile(ctx, NewState(alice))
	require.NoError(t, err)
	require.Equal(t, alice.ID, st.Profile.Owner)
	require.Equal(t, 1, store.count("CreateProfile"))
	require.Equal(t, 2, store.count("GetProfile"))
}

type raceStore struct {
	*memStore
	hideProfileOnce bool
}

func (r *raceStore) GetProfile(ctx context.Context, owner string) (Profile, error) {
	p, err := r.memStore.GetProfile(ctx, owner)
	if r.hideProfileOnce {
		r.hideProfileOnce = false
		return Profile{}, ErrNotFound
	}
	return p, err
}

func TestLoadProfile_OtherErrorsLeaveProfileUnchanged(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{})
	existing := &Profile{Owner: alice.ID}
	st := NewState(alice)
	st.Profile = existing

	store.failOn("GetProfile", errBoom)
	next, err := s.LoadProfile(context.Background(), st)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, KindRemote, KindOf(err))
	require.Same(t, existing, next.Profile)
	require.Zero(t, store.count("CreateProfile"))
}

func TestLoadChats_SelectsNewestWhenUnset(t *testing.T) {
	store := newMemStore()
	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	store.chats["b"] = ChatSession{ID: "b", Owner: alice.ID, CreatedAt: t1}
	store.chats["a"] = ChatSession{ID: "a", Owner: alice.ID, CreatedAt: t2}
	store.chats["z"] = ChatSession{ID: "z", Owner: "someone-else", CreatedAt: t2}
	s := newTestSync(t, store, &fakeCompleter{})

	st, err := s.LoadChats(context.Background(), NewState(alice))
	require.NoError(t, err)
	require.Equal(t, "a", st.ActiveChatID)
	require.Len(t, st.Chats, 2)
	require.Equal(t, "b", st.Chats[1].ID)
	require.Zero(t, store.count("CreateChat"))
}

func TestLoadChats_KeepsExistingActiveChat(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{})
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	older := st.ActiveChatID
	st, err = s.CreateChat(ctx, st)
	require.NoError(t, err)
	st, err = s.SelectChat(ctx, st, older)
	require.NoError(t, err)

	st, err = s.LoadChats(ctx, st)
	require.NoError(t, err)
	require.Equal(t, older, st.ActiveChatID)
}

func TestLoadChats_EmptyDoesNotCreate(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{})

	st, err := s.LoadChats(context.Background(), NewState(alice))
	require.NoError(t, err)
	require.Empty(t, st.Chats)
	require.Empty(t, st.ActiveChatID)
	require.Zero(t, store.count("CreateChat"))
}

func TestEnsureInitialChat_RunsOncePerLogin(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{})
	ctx := context.Background()

	st, err := s.LoadChats(ctx, NewState(alice))
	require.NoError(t, err)
	st, err = s.EnsureInitialChat(ctx, st)
	require.NoError(t, err)
	require.Len(t, st.Chats, 1)
	require.Equal(t, st.Chats[0].ID, st.ActiveChatID)

	// Even with the list emptied again, the guard holds for this login.
	st.Chats = nil
	st, err = s.EnsureInitialChat(ctx, st)
	require.NoError(t, err)
	require.Equal(t, 1, store.count("CreateChat"))

	// A new login resets the guard, but the existing chat prevents creation.
	st, err = s.LoadChats(ctx, NewState(alice))
	require.NoError(t, err)
	_, err = s.EnsureInitialChat(ctx, st)
	require.NoError(t, err)
	require.Equal(t, 1, store.count("CreateChat"))
}

func TestCreateChat_PrependsAndActivates(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{reply: "ok"})
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	st, err = s.SendMessage(ctx, st, st.ActiveChatID, "hello")
	require.NoError(t, err)
	require.Len(t, st.Messages, 2)

	st, err = s.CreateChat(ctx, st)
	require.NoError(t, err)
	require.Len(t, st.Chats, 2)
	require.Equal(t, st.Chats[0].ID, st.ActiveChatID)
	require.Empty(t, st.Messages)
	requireDescending(t, st.Chats)
}

func TestCreateChat_FailureLeavesStateUnchanged(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{})
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)

	store.failOn("CreateChat", errBoom)
	next, err := s.CreateChat(ctx, st)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, st, next)
}

func TestChatOrderingHoldsAcrossCreatesAndDeletes(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{reply: "ok"})
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	st := NewState(alice)
	for i := 0; i < 60; i++ {
		var err error
		if len(st.Chats) == 0 || rng.Intn(3) > 0 {
			st, err = s.CreateChat(ctx, st)
		} else {
			victim := st.Chats[rng.Intn(len(st.Chats))].ID
			st, err = s.DeleteChat(ctx, st, victim)
		}
		require.NoError(t, err)
		requireDescending(t, st.Chats)
		require.GreaterOrEqual(t, st.chatIndex(st.ActiveChatID), 0)
	}

	remote, err := store.ListChats(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, remote, st.Chats)
}

func TestDeleteChat_OnlyChatCreatesExactlyOneReplacement(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{reply: "ok"})
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	only := st.ActiveChatID
	st, err = s.SendMessage(ctx, st, only, "hi")
	require.NoError(t, err)

	st, err = s.DeleteChat(ctx, st, only)
	require.NoError(t, err)
	require.Equal(t, 2, store.count("CreateChat"))
	require.Empty(t, st.Messages)
	require.Len(t, st.Chats, 1)
	require.NotEqual(t, only, st.ActiveChatID)
	require.Equal(t, st.Chats[0].ID, st.ActiveChatID)
	require.Empty(t, store.messages)
}

func TestDeleteChat_ActiveSelectsNextNewest(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{})
	ctx := context.Background()

	st := NewState(alice)
	for i := 0; i < 3; i++ {
		var err error
		st, err = s.CreateChat(ctx, st)
		require.NoError(t, err)
	}
	ids := []string{st.Chats[0].ID, st.Chats[1].ID, st.Chats[2].ID}

	st, err := s.DeleteChat(ctx, st, ids[0])
	require.NoError(t, err)
	require.Equal(t, ids[1], st.ActiveChatID)
	require.Equal(t, 3, store.count("CreateChat"))
}

func TestDeleteChat_InactiveKeepsSelection(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{reply: "ok"})
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	old := st.ActiveChatID
	st, err = s.CreateChat(ctx, st)
	require.NoError(t, err)
	st, err = s.SendMessage(ctx, st, st.ActiveChatID, "keep me")
	require.NoError(t, err)

	st, err = s.DeleteChat(ctx, st, old)
	require.NoError(t, err)
	require.Len(t, st.Chats, 1)
	require.Len(t, st.Messages, 2)
}

func TestDeleteChat_DeletesMessagesBeforeChat(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{reply: "ok"})
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	chatID := st.ActiveChatID
	st, err = s.SendMessage(ctx, st, chatID, "hello")
	require.NoError(t, err)

	store.failOn("DeleteMessages", errBoom)
	next, err := s.DeleteChat(ctx, st, chatID)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, st, next)
	require.Zero(t, store.count("DeleteChat"))
	require.Len(t, store.messages, 2)
}

func TestDeleteChat_ChatFailureAfterMessagesCleared(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{reply: "ok"})
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	chatID := st.ActiveChatID
	st, err = s.SendMessage(ctx, st, chatID, "hello")
	require.NoError(t, err)

	store.failOn("DeleteChat", errBoom)
	st, err = s.DeleteChat(ctx, st, chatID)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, chatID, st.ActiveChatID)
	require.Len(t, st.Chats, 1)
	require.Empty(t, st.Messages)
	require.Empty(t, store.messages)
}

func TestRenameChat_BlankTitleIsNoOp(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{})
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	chatID := st.ActiveChatID

	for _, title := range []string{"", "   ", "\t\n"} {
		next, err := s.RenameChat(ctx, st, chatID, title)
		require.NoError(t, err)
		require.Equal(t, st, next)
	}
	require.Zero(t, store.count("RenameChat"))
	require.Equal(t, "New Chat", store.chats[chatID].Title)
}

func TestRenameChat_UpdatesInPlace(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{})
	ctx := context.Background()

	st := NewState(alice)
	for i := 0; i < 3; i++ {
		var err error
		st, err = s.CreateChat(ctx, st)
		require.NoError(t, err)
	}
	before := st
	target := st.Chats[1].ID

	st, err := s.RenameChat(ctx, st, target, "  nmap sweep  ")
	require.NoError(t, err)
	require.Equal(t, "nmap sweep", st.Chats[1].Title)
	require.Equal(t, target, st.Chats[1].ID)
	require.Equal(t, "nmap sweep", store.chats[target].Title)
	// the earlier snapshot is untouched
	require.Equal(t, "New Chat", before.Chats[1].Title)
}

func TestRenameChat_FailureReported(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{})
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	next, err := s.RenameChat(ctx, st, "missing", "x")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, KindNotFound, KindOf(err))
	require.Equal(t, st, next)
}

func TestSendMessage_Scenario(t *testing.T) {
	store := newMemStore()
	comp := &fakeCompleter{reply: "hi there"}
	s := newTestSync(t, store, comp)
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	c1 := st.ActiveChatID

	st, err = s.SendMessage(ctx, st, c1, "hello")
	require.NoError(t, err)
	require.Len(t, st.Messages, 2)
	require.Equal(t, "hello", st.Messages[0].Content)
	require.Equal(t, SenderUser, st.Messages[0].Sender)
	require.Equal(t, "hi there", st.Messages[1].Content)
	require.Equal(t, SenderBot, st.Messages[1].Sender)
	require.Equal(t, []string{"hello"}, comp.got)

	reloaded, err := s.LoadMessages(ctx, st, c1)
	require.NoError(t, err)
	require.Equal(t, st.Messages, reloaded.Messages)
}

func TestSendMessage_BlankIsNoOp(t *testing.T) {
	store := newMemStore()
	comp := &fakeCompleter{reply: "x"}
	s := newTestSync(t, store, comp)
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	next, err := s.SendMessage(ctx, st, st.ActiveChatID, "  \n ")
	require.NoError(t, err)
	require.Equal(t, st, next)
	require.Zero(t, store.count("InsertMessage"))
	require.Empty(t, comp.got)
}

func TestSendMessage_UserPersistFailureAborts(t *testing.T) {
	store := newMemStore()
	comp := &fakeCompleter{reply: "x"}
	s := newTestSync(t, store, comp)
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	store.failOn("InsertMessage:user", errBoom)

	next, err := s.SendMessage(ctx, st, st.ActiveChatID, "hello")
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, KindRemote, KindOf(err))
	require.Equal(t, st, next)
	require.Empty(t, comp.got)
}

func TestSendMessage_CompletionFailureAppendsLocalFallback(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{err: errors.New("503")})
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	chatID := st.ActiveChatID

	st, err = s.SendMessage(ctx, st, chatID, "scan 10.0.0.1")
	require.NoError(t, err)
	require.Len(t, st.Messages, 2)
	require.Equal(t, SenderUser, st.Messages[0].Sender)
	require.False(t, st.Messages[0].Local)
	require.Equal(t, FallbackReply, st.Messages[1].Content)
	require.Equal(t, SenderBot, st.Messages[1].Sender)
	require.True(t, st.Messages[1].Local)

	reloaded, err := s.LoadMessages(ctx, st, chatID)
	require.NoError(t, err)
	require.Len(t, reloaded.Messages, 1)
	require.Equal(t, "scan 10.0.0.1", reloaded.Messages[0].Content)
}

func TestSendMessage_BotPersistFailureAppendsFallback(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{reply: "lost reply"})
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	store.failOn("InsertMessage:bot", errBoom)

	st, err = s.SendMessage(ctx, st, st.ActiveChatID, "hello")
	require.NoError(t, err)
	require.Len(t, st.Messages, 2)
	require.Equal(t, FallbackReply, st.Messages[1].Content)
	require.True(t, st.Messages[1].Local)
	require.Len(t, store.messages, 1)
}

func TestSendMessage_WithoutActiveChatIsNoOp(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{reply: "x"})

	st, err := s.SendMessage(context.Background(), NewState(alice), "", "hello")
	require.NoError(t, err)
	require.Empty(t, st.Messages)

	st, err = s.SendMessage(context.Background(), State{}, "c1", "hello")
	require.NoError(t, err)
	require.Empty(t, st.Messages)
	require.Zero(t, store.count("InsertMessage"))
}

func TestLoadMessages_DiscardsInactiveChat(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{reply: "ok"})
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	first := st.ActiveChatID
	st, err = s.SendMessage(ctx, st, first, "in first")
	require.NoError(t, err)
	st, err = s.CreateChat(ctx, st)
	require.NoError(t, err)

	next, err := s.LoadMessages(ctx, st, first)
	require.NoError(t, err)
	require.Empty(t, next.Messages)

	_, applied := st.ApplyMessages(MessagePage{ChatID: first})
	require.False(t, applied)
}

func TestLoadMessages_SortsAscending(t *testing.T) {
	store := newMemStore()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	store.chats["c"] = ChatSession{ID: "c", Owner: alice.ID, CreatedAt: base}
	store.messages = []ChatMessage{
		{ChatID: "c", Content: "third", CreatedAt: base.Add(3 * time.Minute)},
		{ChatID: "c", Content: "first", CreatedAt: base.Add(time.Minute)},
		{ChatID: "c", Content: "second", CreatedAt: base.Add(2 * time.Minute)},
	}
	s := newTestSync(t, store, &fakeCompleter{})

	st, err := s.LoadChats(context.Background(), NewState(alice))
	require.NoError(t, err)
	st, err = s.LoadMessages(context.Background(), st, "c")
	require.NoError(t, err)
	require.Equal(t, "first", st.Messages[0].Content)
	require.Equal(t, "third", st.Messages[2].Content)
}

func TestClearChat(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{reply: "ok"})
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	chatID := st.ActiveChatID
	st, err = s.SendMessage(ctx, st, chatID, "hello")
	require.NoError(t, err)

	store.failOn("DeleteMessages", errBoom)
	next, err := s.ClearChat(ctx, st, chatID)
	require.ErrorIs(t, err, errBoom)
	require.Len(t, next.Messages, 2)

	store.failOn("DeleteMessages", nil)
	st, err = s.ClearChat(ctx, st, chatID)
	require.NoError(t, err)
	require.Empty(t, st.Messages)
	require.Len(t, st.Chats, 1)
	require.Empty(t, store.messages)
	require.Contains(t, store.chats, chatID)
}

func TestSelectChat_UnknownChat(t *testing.T) {
	s := newTestSync(t, newMemStore(), &fakeCompleter{})
	_, err := s.SelectChat(context.Background(), NewState(alice), "nope")
	require.ErrorIs(t, err, ErrUnknownChat)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestEnsureInitialChat_FailedCreateStaysArmed(t *testing.T) {
	store := newMemStore()
	s := newTestSync(t, store, &fakeCompleter{})
	ctx := context.Background()

	store.failOn("CreateChat", errBoom)
	st, err := s.EnsureInitialChat(ctx, NewState(alice))
	require.Error(t, err)
	require.Empty(t, st.Chats)

	store.failOn("CreateChat", nil)
	st, err = s.EnsureInitialChat(ctx, st)
	require.NoError(t, err)
	require.Len(t, st.Chats, 1)
	require.Equal(t, st.Chats[0].ID, st.ActiveChatID)

	st, err = s.EnsureInitialChat(ctx, st)
	require.NoError(t, err)
	require.Len(t, st.Chats, 1)
	require.Equal(t, 2, store.count("CreateChat"))
}

type historyCompleter struct {
	fakeCompleter
	chatIDs []string
}

func (h *historyCompleter) CompleteInChat(_ context.Context, chatID, message string) (string, error) {
	h.chatIDs = append(h.chatIDs, chatID)
	return "with history: " + message, nil
}

func TestSendMessage_UsesChatHistoryWhenSupported(t *testing.T) {
	store := newMemStore()
	comp := &historyCompleter{}
	s := newTestSync(t, store, comp)
	ctx := context.Background()

	st, err := s.CreateChat(ctx, NewState(alice))
	require.NoError(t, err)
	st, err = s.SendMessage(ctx, st, st.ActiveChatID, "hi")
	require.NoError(t, err)

	require.Equal(t, []string{st.ActiveChatID}, comp.chatIDs)
	require.Empty(t, comp.got)
	require.Equal(t, "with history: hi", st.Messages[1].Content)
}

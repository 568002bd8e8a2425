package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/keystone/internal/chat"
	"gorm.io/gorm"
)

type fakeCompleter struct {
	calls atomic.Int32
	err   error
}

func (f *fakeCompleter) Complete(_ context.Context, message string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "re: " + message, nil
}

type jobCounter struct {
	mu       sync.Mutex
	statuses []string
}

func (r *jobCounter) RecordCompletion(string, time.Duration, error) {}
func (r *jobCounter) RecordJob(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func quiet() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func newRepo(t *testing.T) *chat.Repo {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&chat.Job{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return chat.NewRepo(db)
}

func seedJob(t *testing.T, repo *chat.Repo, id, prompt string) {
	t.Helper()
	require.NoError(t, repo.CreateJob(context.Background(), &chat.Job{
		ID: id, UserID: "u1", Prompt: prompt, Status: chat.JobQueued,
	}))
}

func TestHandle_Succeeds(t *testing.T) {
	repo := newRepo(t)
	seedJob(t, repo, "j1", "ping")
	rec := &jobCounter{}
	h := NewHandler(repo, &fakeCompleter{}, rec, quiet())

	require.NoError(t, h.Handle(context.Background(), "j1"))

	j, err := repo.GetJobByID(context.Background(), "j1")
	require.NoError(t, err)
	require.Equal(t, chat.JobSucceeded, j.Status)
	require.Equal(t, "re: ping", *j.Result)
	require.Equal(t, []string{"succeeded"}, rec.statuses)
}

func TestHandle_CompletionFailureMarksJob(t *testing.T) {
	repo := newRepo(t)
	seedJob(t, repo, "j1", "ping")
	h := NewHandler(repo, &fakeCompleter{err: errors.New("model offline")}, nil, quiet())

	require.Error(t, h.Handle(context.Background(), "j1"))

	j, err := repo.GetJobByID(context.Background(), "j1")
	require.NoError(t, err)
	require.Equal(t, chat.JobFailed, j.Status)
	require.Equal(t, "model offline", *j.Error)
	require.Nil(t, j.Result)
}

func TestHandle_SkipsFinishedJob(t *testing.T) {
	repo := newRepo(t)
	seedJob(t, repo, "j1", "ping")
	comp := &fakeCompleter{}
	h := NewHandler(repo, comp, nil, quiet())

	require.NoError(t, h.Handle(context.Background(), "j1"))
	require.NoError(t, h.Handle(context.Background(), "j1"))
	require.Equal(t, int32(1), comp.calls.Load())
}

func TestPool_DrainsMemoryQueue(t *testing.T) {
	repo := newRepo(t)
	comp := &fakeCompleter{}
	h := NewHandler(repo, comp, nil, quiet())
	q := NewMemoryQueue(16)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("j%d", i)
		seedJob(t, repo, id, id)
		require.NoError(t, q.Enqueue(ctx, id))
	}
	require.NoError(t, q.Close())
	require.ErrorIs(t, q.Enqueue(ctx, "late"), ErrQueueClosed)

	NewPool(h, 3, quiet()).Run(ctx, q.Tasks())

	require.Equal(t, int32(5), comp.calls.Load())
	for i := 0; i < 5; i++ {
		j, err := repo.GetJobByID(ctx, fmt.Sprintf("j%d", i))
		require.NoError(t, err)
		require.Equal(t, chat.JobSucceeded, j.Status)
	}
}

func TestPool_AcksAndNacks(t *testing.T) {
	repo := newRepo(t)
	seedJob(t, repo, "ok", "x")
	h := NewHandler(repo, &fakeCompleter{}, nil, quiet())

	var acks, nacks atomic.Int32
	task := func(id string) Task {
		return Task{
			JobID: id,
			Ack:   func() error { acks.Add(1); return nil },
			Nack:  func() error { nacks.Add(1); return nil },
		}
	}

	src := make(chan Task, 3)
	src <- task("ok")
	src <- task("missing")
	src <- task("")
	close(src)

	NewPool(h, 2, quiet()).Run(context.Background(), src)
	require.Equal(t, int32(1), acks.Load())
	require.Equal(t, int32(2), nacks.Load())
}

func TestPool_StopsOnCancel(t *testing.T) {
	h := NewHandler(newRepo(t), &fakeCompleter{}, nil, quiet())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewPool(h, 1, quiet()).Run(ctx, make(chan Task))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not stop")
	}
}

package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// ListChats returns a user's chats in DESC created_at order (newest -> oldest).
func (r *Repo) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	var chats []Chat
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

// CreateChat assigns the next per-user sequence number and inserts c.
// The (user_id, sequence_number) unique index rejects a racing insert,
// which is retried with a fresh number.
func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var maxSeq int
			if err := tx.Model(&Chat{}).
				Where("user_id = ?", c.UserID).
				Select("COALESCE(MAX(sequence_number), 0)").
				Scan(&maxSeq).Error; err != nil {
				return err
			}
			c.SequenceNumber = maxSeq + 1
			return tx.Create(c).Error
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (r *Repo) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) UpdateChatTitle(ctx context.Context, id, title string) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", id).
		Update("title", title).Error
}

func (r *Repo) DeleteChat(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&Chat{}).Error
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessages returns a chat's messages in ASC created_at order (oldest -> newest).
func (r *Repo) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) CountMessages(ctx context.Context, chatID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).Where("chat_id = ?", chatID).Count(&n).Error
	return n, err
}

func (r *Repo) DeleteMessages(ctx context.Context, chatID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&Message{})
	return res.RowsAffected, res.Error
}

// Profile CRUD
func (r *Repo) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	if err := r.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProfile inserts p, returning ErrProfileExists if the user already has one.
func (r *Repo) CreateProfile(ctx context.Context, p *Profile) error {
	err := r.db.WithContext(ctx).Create(p).Error
	if err == nil {
		return nil
	}

	if _, getErr := r.GetProfile(ctx, p.UserID); getErr == nil {
		return ErrProfileExists
	}
	return err
}

// UpsertProfile writes the non-nil fields of p, inserting the row if it is missing.
func (r *Repo) UpsertProfile(ctx context.Context, p *Profile) (*Profile, error) {
	cols := []string{"updated_at"}
	if p.Username != nil {
		cols = append(cols, "username")
	}
	if p.AvatarURL != nil {
		cols = append(cols, "avatar_url")
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(p).Error; err != nil {
		return nil, err
	}
	return r.GetProfile(ctx, p.UserID)
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, result string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"result": result,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
			"result": nil,
		}).Error
}

func (r *Repo) GetJobByUserAndIdempotencyKey(ctx context.Context, userID string, key string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job, but if (user_id, idempotency_key) already exists,
// it returns the existing job instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByUserAndIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}

	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

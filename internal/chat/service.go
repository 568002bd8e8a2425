package chat

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/suPer8Hu/keystone/internal/common"
	"gorm.io/gorm"
)

var (
	ErrChatNotEmpty  = errors.New("chat still has messages")
	ErrProfileExists = errors.New("profile already exists")
	ErrInvalidSender = errors.New("sender must be user or bot")
	ErrEmptyContent  = errors.New("content must not be empty")
	ErrEmptyTitle    = errors.New("title must not be empty")
	ErrFieldTooLong  = errors.New("field too long")
)

const (
	maxTitleLen    = 255
	maxUsernameLen = 64
)

type Service struct {
	repo   *Repo
	policy *bluemonday.Policy
}

func NewService(repo *Repo) *Service {
	return &Service{repo: repo, policy: bluemonday.StrictPolicy()}
}

// plainText strips markup from user-supplied labels that other clients render.
func (s *Service) plainText(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}

func (s *Service) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	return s.repo.ListChats(ctx, userID)
}

func (s *Service) CreateChat(ctx context.Context, userID string) (*Chat, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	c := &Chat{
		ID:     id,
		UserID: userID,
		Title:  DefaultChatTitle,
	}
	if err := s.repo.CreateChat(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// chatForUser hides chats owned by someone else behind gorm.ErrRecordNotFound.
func (s *Service) chatForUser(ctx context.Context, userID, chatID string) (*Chat, error) {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (s *Service) ValidateChatOwner(ctx context.Context, userID, chatID string) error {
	_, err := s.chatForUser(ctx, userID, chatID)
	return err
}

func (s *Service) RenameChat(ctx context.Context, userID, chatID, title string) (*Chat, error) {
	title = s.plainText(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if len(title) > maxTitleLen {
		return nil, ErrFieldTooLong
	}
	c, err := s.chatForUser(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateChatTitle(ctx, chatID, title); err != nil {
		return nil, err
	}
	c.Title = title
	return c, nil
}

// DeleteChat refuses to delete a chat whose messages have not been removed first.
func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) error {
	if err := s.ValidateChatOwner(ctx, userID, chatID); err != nil {
		return err
	}
	n, err := s.repo.CountMessages(ctx, chatID)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrChatNotEmpty
	}
	return s.repo.DeleteChat(ctx, chatID)
}

func (s *Service) ListMessages(ctx context.Context, userID, chatID string) ([]Message, error) {
	if err := s.ValidateChatOwner(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, chatID)
}

func (s *Service) InsertMessage(ctx context.Context, userID, chatID, sender, content string) (*Message, error) {
	if sender != SenderUser && sender != SenderBot {
		return nil, ErrInvalidSender
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if err := s.ValidateChatOwner(ctx, userID, chatID); err != nil {
		return nil, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	m := &Message{
		ID:      id,
		ChatID:  chatID,
		UserID:  userID,
		Sender:  sender,
		Content: content,
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) DeleteMessages(ctx context.Context, userID, chatID string) error {
	if err := s.ValidateChatOwner(ctx, userID, chatID); err != nil {
		return err
	}
	_, err := s.repo.DeleteMessages(ctx, chatID)
	return err
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	return s.repo.GetProfile(ctx, userID)
}

// CreateProfile creates an empty profile; ErrProfileExists if there already is one.
func (s *Service) CreateProfile(ctx context.Context, userID string) (*Profile, error) {
	p := &Profile{UserID: userID}
	if err := s.repo.CreateProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpsertProfile sets the given fields. A nil field is left as it is.
func (s *Service) UpsertProfile(ctx context.Context, userID string, username, avatarURL *string) (*Profile, error) {
	p := &Profile{UserID: userID, AvatarURL: avatarURL}
	if username != nil {
		clean := s.plainText(*username)
		if len(clean) > maxUsernameLen {
			return nil, ErrFieldTooLong
		}
		p.Username = &clean
	}
	return s.repo.UpsertProfile(ctx, p)
}

func (s *Service) CreateJob(ctx context.Context, job *Job) error {
	return s.repo.CreateJob(ctx, job)
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

func (s *Service) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	return s.repo.CreateJobOrGetExisting(ctx, job)
}

package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/suPer8Hu/keystone/internal/chatsync"
)

// The server scopes every collection to the token's user, so the owner
// arguments below are not sent.

func (c *Client) GetProfile(ctx context.Context, _ string) (chatsync.Profile, error) {
	return call[chatsync.Profile](ctx, c, http.MethodGet, "/profiles/me", nil, true)
}

func (c *Client) CreateProfile(ctx context.Context, _ string) (chatsync.Profile, error) {
	return call[chatsync.Profile](ctx, c, http.MethodPost, "/profiles", nil, true)
}

func (c *Client) UpsertProfile(ctx context.Context, p chatsync.Profile) (chatsync.Profile, error) {
	body := map[string]*string{}
	if p.Username != nil {
		body["username"] = p.Username
	}
	if p.AvatarURL != nil {
		body["avatar_url"] = p.AvatarURL
	}
	return call[chatsync.Profile](ctx, c, http.MethodPut, "/profiles/me", body, true)
}

func (c *Client) ListChats(ctx context.Context, _ string) ([]chatsync.ChatSession, error) {
	return call[[]chatsync.ChatSession](ctx, c, http.MethodGet, "/chats", nil, true)
}

func (c *Client) CreateChat(ctx context.Context, _ string) (chatsync.ChatSession, error) {
	return call[chatsync.ChatSession](ctx, c, http.MethodPost, "/chats", nil, true)
}

func (c *Client) RenameChat(ctx context.Context, chatID, title string) (chatsync.ChatSession, error) {
	return call[chatsync.ChatSession](ctx, c, http.MethodPatch, chatPath(chatID), map[string]string{"title": title}, true)
}

func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	_, err := call[struct{}](ctx, c, http.MethodDelete, chatPath(chatID), nil, true)
	return err
}

func (c *Client) ListMessages(ctx context.Context, chatID string) ([]chatsync.ChatMessage, error) {
	return call[[]chatsync.ChatMessage](ctx, c, http.MethodGet, chatPath(chatID)+"/messages", nil, true)
}

func (c *Client) InsertMessage(ctx context.Context, m chatsync.ChatMessage) (chatsync.ChatMessage, error) {
	return call[chatsync.ChatMessage](ctx, c, http.MethodPost, chatPath(m.ChatID)+"/messages", map[string]string{
		"sender":  string(m.Sender),
		"content": m.Content,
	}, true)
}

func (c *Client) DeleteMessages(ctx context.Context, chatID string) error {
	_, err := call[struct{}](ctx, c, http.MethodDelete, chatPath(chatID)+"/messages", nil, true)
	return err
}

func chatPath(id string) string {
	return "/chats/" + url.PathEscape(id)
}

package client

import (
	"context"
	"net/http"

	"github.com/suPer8Hu/keystone/internal/chatsync"
)

type authResp struct {
	User  chatsync.UserIdentity `json:"user"`
	Token string                `json:"token"`
}

func (c *Client) SignIn(ctx context.Context, email, password string) (chatsync.UserIdentity, error) {
	return c.authenticate(ctx, "/auth/signin", email, password)
}

func (c *Client) SignUp(ctx context.Context, email, password string) (chatsync.UserIdentity, error) {
	return c.authenticate(ctx, "/auth/signup", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (chatsync.UserIdentity, error) {
	resp, err := call[authResp](ctx, c, http.MethodPost, path, map[string]string{
		"email":    email,
		"password": password,
	}, false)
	if err != nil {
		return chatsync.UserIdentity{}, err
	}
	c.setToken(resp.Token)
	return resp.User, nil
}

// SignOut revokes the token server-side and forgets it.
func (c *Client) SignOut(ctx context.Context) error {
	if _, err := call[struct{}](ctx, c, http.MethodPost, "/auth/signout", nil, true); err != nil {
		return err
	}
	c.setToken("")
	return nil
}

// CurrentUser resolves the identity behind the current token.
func (c *Client) CurrentUser(ctx context.Context) (chatsync.UserIdentity, error) {
	return call[chatsync.UserIdentity](ctx, c, http.MethodGet, "/auth/user", nil, true)
}

func (c *Client) UpdateUser(ctx context.Context, u chatsync.UserUpdate) (chatsync.UserIdentity, error) {
	return call[chatsync.UserIdentity](ctx, c, http.MethodPut, "/auth/user", map[string]string{
		"email":    u.Email,
		"password": u.Password,
	}, true)
}

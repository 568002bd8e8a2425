package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

func (s *Synchronizer) SignIn(ctx context.Context, email, password string) (State, error) {
	if s.auth == nil {
		return State{}, &Error{Kind: KindRemote, Op: "sign_in", Err: errNoAuth}
	}
	user, err := s.auth.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		s.logger.Warn("sign in failed", slog.String("email", email), slog.Any("err", err))
		return State{}, remoteErr("sign_in", err)
	}
	return NewState(user), nil
}

func (s *Synchronizer) SignUp(ctx context.Context, email, password string) (State, error) {
	if s.auth == nil {
		return State{}, &Error{Kind: KindRemote, Op: "sign_up", Err: errNoAuth}
	}
	user, err := s.auth.SignUp(ctx, strings.TrimSpace(email), password)
	if err != nil {
		s.logger.Warn("sign up failed", slog.String("email", email), slog.Any("err", err))
		return State{}, remoteErr("sign_up", err)
	}
	return NewState(user), nil
}

// SignOut ends the session. On failure the current state is kept.
func (s *Synchronizer) SignOut(ctx context.Context, st State) (State, error) {
	if st.User == nil {
		return State{}, nil
	}
	if s.auth == nil {
		return st, &Error{Kind: KindRemote, Op: "sign_out", Err: errNoAuth}
	}
	if err := s.auth.SignOut(ctx); err != nil {
		s.logger.Error("sign out failed", slog.String("user_id", st.User.ID), slog.Any("err", err))
		return st, remoteErr("sign_out", err)
	}
	return State{}, nil
}

type Avatar struct {
	FileName string
	Data     []byte
}

// Settings is one submission of the account settings form. Empty fields are left unchanged.
type Settings struct {
	Username        string
	Avatar          *Avatar
	Email           string
	Password        string
	ConfirmPassword string
}

// SaveSettings uploads the avatar, upserts the profile and then updates the
// auth account. Each step that succeeds is reflected in the returned State
// even when a later step fails.
func (s *Synchronizer) SaveSettings(ctx context.Context, st State, in Settings) (State, error) {
	if st.User == nil {
		return st, nil
	}
	if in.Password != "" && in.Password != in.ConfirmPassword {
		return st, validationErr("save_settings", ErrPasswordMismatch)
	}

	var upd Profile
	changed := false
	if in.Avatar != nil {
		url, err := s.uploadAvatar(ctx, st.User.ID, *in.Avatar)
		if err != nil {
			s.logger.Error("avatar upload failed", slog.String("user_id", st.User.ID), slog.Any("err", err))
			return st, remoteErr("save_settings", err)
		}
		upd.AvatarURL = &url
		changed = true
	}
	if name := strings.TrimSpace(in.Username); name != "" {
		upd.Username = &name
		changed = true
	}
	if changed {
		upd.Owner = st.User.ID
		upd.UpdatedAt = s.now()
		p, err := s.store.UpsertProfile(ctx, upd)
		if err != nil {
			s.logger.Error("profile upsert failed", slog.String("user_id", st.User.ID), slog.Any("err", err))
			return st, remoteErr("save_settings", err)
		}
		st.Profile = &p
	}

	var u UserUpdate
	if email := strings.TrimSpace(in.Email); email != "" && email != st.User.Email {
		u.Email = email
	}
	u.Password = in.Password
	if u == (UserUpdate{}) {
		return st, nil
	}
	if s.auth == nil {
		return st, &Error{Kind: KindRemote, Op: "save_settings", Err: errNoAuth}
	}
	user, err := s.auth.UpdateUser(ctx, u)
	if err != nil {
		s.logger.Error("account update failed", slog.String("user_id", st.User.ID), slog.Any("err", err))
		return st, remoteErr("save_settings", err)
	}
	st.User = &user
	return st, nil
}

func (s *Synchronizer) uploadAvatar(ctx context.Context, owner string, a Avatar) (string, error) {
	if s.storage == nil {
		return "", errNoObjectStorage
	}
	name := fmt.Sprintf("%s-%s%s", owner, s.newID(), strings.ToLower(filepath.Ext(a.FileName)))
	return s.storage.Upload(ctx, name, a.Data)
}

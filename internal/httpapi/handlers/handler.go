package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/keystone/internal/ai"
	"github.com/suPer8Hu/keystone/internal/auth"
	"github.com/suPer8Hu/keystone/internal/chat"
	"github.com/suPer8Hu/keystone/internal/common"
	"github.com/suPer8Hu/keystone/internal/completion"
	"github.com/suPer8Hu/keystone/internal/httpapi/middleware"
	"github.com/suPer8Hu/keystone/internal/objectstore"
	"github.com/suPer8Hu/keystone/internal/worker"
	"gorm.io/gorm"
)

type Completer interface {
	Complete(ctx context.Context, message string) (string, error)
	CompleteWithHistory(ctx context.Context, history []ai.Message, message string) (string, error)
}

type Handler struct {
	Auth       *auth.Service
	ChatSvc    *chat.Service
	Completion Completer
	Queue      worker.Queue
	Avatars    *objectstore.Local
	Logger     *slog.Logger
}

func ok(c *gin.Context, data any) { common.OK(c, data) }

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	common.Fail(c, httpStatus, code, msg)
}

func userIDFromContext(c *gin.Context) (string, bool) {
	id := c.GetString(middleware.UserIDKey)
	return id, id != ""
}

func claimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	v, found := c.Get(middleware.ClaimsKey)
	if !found {
		return nil, false
	}
	cl, isClaims := v.(*auth.Claims)
	return cl, isClaims
}

// requireUser writes 401 and returns false when the route was reached
// without an authenticated caller.
func requireUser(c *gin.Context) (string, bool) {
	uid, found := userIDFromContext(c)
	if !found {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, found
}

// writeError maps domain and storage errors onto the envelope. Anything not
// recognized is logged and reported as a 500.
func (h *Handler) writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		fail(c, http.StatusNotFound, 40400, "not found")

	case errors.Is(err, chat.ErrProfileExists),
		errors.Is(err, chat.ErrChatNotEmpty),
		errors.Is(err, auth.ErrEmailTaken):
		fail(c, http.StatusConflict, 40900, err.Error())

	case errors.Is(err, chat.ErrEmptyTitle),
		errors.Is(err, chat.ErrEmptyContent),
		errors.Is(err, chat.ErrInvalidSender),
		errors.Is(err, chat.ErrFieldTooLong),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, completion.ErrEmptyMessage),
		errors.Is(err, objectstore.ErrInvalidName):
		fail(c, http.StatusBadRequest, 10002, err.Error())

	case errors.Is(err, objectstore.ErrTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, 41300, err.Error())

	case errors.Is(err, auth.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, 40102, "Invalid login credentials")

	default:
		h.Logger.Error("request failed",
			slog.String("op", op),
			slog.String("request_id", c.GetString(middleware.RequestIDKey)),
			slog.Any("error", err),
		)
		fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}

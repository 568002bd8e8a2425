package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/suPer8Hu/keystone/internal/auth"
	"github.com/suPer8Hu/keystone/internal/chat"
	"github.com/suPer8Hu/keystone/internal/common"
	"github.com/suPer8Hu/keystone/internal/config"
	"github.com/suPer8Hu/keystone/internal/httpapi/handlers"
	"github.com/suPer8Hu/keystone/internal/httpapi/middleware"
	"github.com/suPer8Hu/keystone/internal/metrics"
	"github.com/suPer8Hu/keystone/internal/objectstore"
	"github.com/suPer8Hu/keystone/internal/worker"
)

type Deps struct {
	Cfg        config.Config
	Auth       *auth.Service
	ChatSvc    *chat.Service
	Completion handlers.Completer
	Queue      worker.Queue
	Avatars    *objectstore.Local
	Metrics    *metrics.Collector
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

// NewRouter wires every route. The returned stop func releases background
// goroutines owned by the router.
func NewRouter(d Deps) (*gin.Engine, func()) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.Recovery(d.Logger))
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := &handlers.Handler{
		Auth:       d.Auth,
		ChatSvc:    d.ChatSvc,
		Completion: d.Completion,
		Queue:      d.Queue,
		Avatars:    d.Avatars,
		Logger:     d.Logger,
	}

	var onReject func()
	if d.Metrics != nil {
		onReject = d.Metrics.RecordRateLimited
	}
	limiter := middleware.NewRateLimiter(d.Cfg.ChatRatePerSec, d.Cfg.ChatRateBurst, onReject)

	r.GET("/ping", h.Ping)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(d.Gatherer)))
	}

	r.POST("/auth/signup", h.SignUp)
	r.POST("/auth/signin", h.SignIn)
	r.POST("/chat", limiter.Middleware(), middleware.AuthOptional(d.Auth), h.Complete)
	r.GET("/storage/avatars/:name", h.ServeAvatar)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(d.Auth))

	authGroup.POST("/auth/signout", h.SignOut)
	authGroup.GET("/auth/user", h.Me)
	authGroup.PUT("/auth/user", h.UpdateUser)

	authGroup.GET("/profiles/me", h.GetProfile)
	authGroup.POST("/profiles", h.CreateProfile)
	authGroup.PUT("/profiles/me", h.UpsertProfile)

	authGroup.GET("/chats", h.ListChats)
	authGroup.POST("/chats", h.CreateChat)
	authGroup.PATCH("/chats/:id", h.RenameChat)
	authGroup.DELETE("/chats/:id", h.DeleteChat)
	authGroup.GET("/chats/:id/messages", h.ListMessages)
	authGroup.POST("/chats/:id/messages", h.InsertMessage)
	authGroup.DELETE("/chats/:id/messages", h.DeleteMessages)

	authGroup.POST("/chat/jobs", limiter.Middleware(), h.CreateChatJob)
	authGroup.GET("/chat/jobs/:id", h.GetChatJob)

	authGroup.POST("/storage/avatars", h.UploadAvatar)

	return r, limiter.Stop
}

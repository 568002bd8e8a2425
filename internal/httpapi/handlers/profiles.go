package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetProfile(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	p, err := h.ChatSvc.GetProfile(c.Request.Context(), uid)
	if err != nil {
		h.writeError(c, "get_profile", err)
		return
	}
	ok(c, p)
}

// CreateProfile creates the caller's empty profile. A second call is a 409.
func (h *Handler) CreateProfile(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	p, err := h.ChatSvc.CreateProfile(c.Request.Context(), uid)
	if err != nil {
		h.writeError(c, "create_profile", err)
		return
	}
	ok(c, p)
}

type upsertProfileReq struct {
	Username  *string `json:"username"`
	AvatarURL *string `json:"avatar_url"`
}

func (h *Handler) UpsertProfile(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	var req upsertProfileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	p, err := h.ChatSvc.UpsertProfile(c.Request.Context(), uid, req.Username, req.AvatarURL)
	if err != nil {
		h.writeError(c, "upsert_profile", err)
		return
	}
	ok(c, p)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/keystone/internal/models"
)

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResp struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func toUserResp(u *models.User) userResp {
	return userResp{ID: u.ID, Email: u.Email}
}

func (h *Handler) SignUp(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, err := h.Auth.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, "signup", err)
		return
	}
	ok(c, gin.H{"user": toUserResp(sess.User), "token": sess.Token})
}

func (h *Handler) SignIn(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}

	sess, err := h.Auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, "signin", err)
		return
	}
	ok(c, gin.H{"user": toUserResp(sess.User), "token": sess.Token})
}

func (h *Handler) SignOut(c *gin.Context) {
	claims, found := claimsFromContext(c)
	if !found {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if err := h.Auth.SignOut(c.Request.Context(), claims); err != nil {
		h.writeError(c, "signout", err)
		return
	}
	ok(c, nil)
}

func (h *Handler) Me(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	u, err := h.Auth.GetUser(c.Request.Context(), uid)
	if err != nil {
		h.writeError(c, "get_user", err)
		return
	}
	ok(c, toUserResp(u))
}

type updateUserReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) UpdateUser(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	var req updateUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	u, err := h.Auth.UpdateUser(c.Request.Context(), uid, req.Email, req.Password)
	if err != nil {
		h.writeError(c, "update_user", err)
		return
	}
	ok(c, toUserResp(u))
}

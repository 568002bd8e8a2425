package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/keystone/internal/ai"
	"github.com/suPer8Hu/keystone/internal/chat"
	"github.com/suPer8Hu/keystone/internal/common"
)

func (h *Handler) ListChats(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	chats, err := h.ChatSvc.ListChats(c.Request.Context(), uid)
	if err != nil {
		h.writeError(c, "list_chats", err)
		return
	}
	if chats == nil {
		chats = []chat.Chat{}
	}
	ok(c, chats)
}

func (h *Handler) CreateChat(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	ch, err := h.ChatSvc.CreateChat(c.Request.Context(), uid)
	if err != nil {
		h.writeError(c, "create_chat", err)
		return
	}
	ok(c, ch)
}

type renameChatReq struct {
	Title string `json:"title"`
}

func (h *Handler) RenameChat(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	var req renameChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ch, err := h.ChatSvc.RenameChat(c.Request.Context(), uid, c.Param("id"), req.Title)
	if err != nil {
		h.writeError(c, "rename_chat", err)
		return
	}
	ok(c, ch)
}

// DeleteChat removes an empty chat; callers delete its messages first.
func (h *Handler) DeleteChat(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	if err := h.ChatSvc.DeleteChat(c.Request.Context(), uid, c.Param("id")); err != nil {
		h.writeError(c, "delete_chat", err)
		return
	}
	ok(c, nil)
}

func (h *Handler) ListMessages(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		h.writeError(c, "list_messages", err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	ok(c, msgs)
}

type insertMessageReq struct {
	Sender  string `json:"sender" binding:"required"`
	Content string `json:"content"`
}

func (h *Handler) InsertMessage(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	var req insertMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	m, err := h.ChatSvc.InsertMessage(c.Request.Context(), uid, c.Param("id"), req.Sender, req.Content)
	if err != nil {
		h.writeError(c, "insert_message", err)
		return
	}
	ok(c, m)
}

func (h *Handler) DeleteMessages(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	if err := h.ChatSvc.DeleteMessages(c.Request.Context(), uid, c.Param("id")); err != nil {
		h.writeError(c, "delete_messages", err)
		return
	}
	ok(c, nil)
}

type completeReq struct {
	Message string `json:"message"`
	ChatID  string `json:"chat_id,omitempty"`
}

// Complete answers {"message": ...} with {"response": ...}. The success body
// is not wrapped in the envelope. With a chat_id the caller must be signed in
// and own the chat; its stored messages are sent as history.
func (h *Handler) Complete(c *gin.Context) {
	var req completeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, 10002, "message required")
		return
	}

	var history []ai.Message
	if req.ChatID != "" {
		uid, found := requireUser(c)
		if !found {
			return
		}
		msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, req.ChatID)
		if err != nil {
			h.writeError(c, "chat_history", err)
			return
		}
		history = toHistory(msgs)
	}

	reply, err := h.Completion.CompleteWithHistory(c.Request.Context(), history, req.Message)
	if err != nil {
		h.Logger.Warn("completion failed", slog.Any("error", err))
		fail(c, http.StatusBadGateway, 50200, "completion failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": reply})
}

func toHistory(msgs []chat.Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		role := ai.RoleUser
		if m.Sender == chat.SenderBot {
			role = ai.RoleAssistant
		}
		out = append(out, ai.Message{Role: role, Content: m.Content})
	}
	return out
}

func (h *Handler) CreateChatJob(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	var req completeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, 10002, "message required")
		return
	}

	// read idempotency key
	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	jobID, err := common.NewULID()
	if err != nil {
		h.writeError(c, "create_job", err)
		return
	}
	j := &chat.Job{
		ID:             jobID,
		UserID:         uid,
		Prompt:         req.Message,
		IdempotencyKey: idempoKeyPtr,
		Status:         chat.JobQueued,
	}

	j, created, err := h.ChatSvc.CreateJobOrGetExisting(c.Request.Context(), j)
	if err != nil {
		h.writeError(c, "create_job", err)
		return
	}

	// enqueue only when a new job was created
	if created {
		if err := h.Queue.Enqueue(c.Request.Context(), j.ID); err != nil {
			h.Logger.Error("enqueue failed", slog.String("job", j.ID), slog.Any("error", err))
			fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	ok(c, gin.H{"job_id": j.ID})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}
	j, err := h.ChatSvc.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "get_job", err)
		return
	}
	if j.UserID != uid {
		// hide existence
		fail(c, http.StatusNotFound, 40400, "not found")
		return
	}
	ok(c, gin.H{"job": j})
}

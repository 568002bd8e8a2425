package handlers

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/keystone/internal/objectstore"
)

// UploadAvatar stores the multipart "file" under the form field "name".
// Names must start with the caller's user id so users cannot overwrite each
// other's avatars.
func (h *Handler) UploadAvatar(c *gin.Context) {
	uid, found := requireUser(c)
	if !found {
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if !strings.HasPrefix(name, uid+"-") {
		fail(c, http.StatusBadRequest, 10002, "name must start with the user id")
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, 10002, "file required")
		return
	}
	if fh.Size > h.Avatars.MaxBytes() {
		h.writeError(c, "upload_avatar", objectstore.ErrTooLarge)
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.writeError(c, "upload_avatar", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.Avatars.MaxBytes()+1))
	if err != nil {
		h.writeError(c, "upload_avatar", err)
		return
	}

	url, err := h.Avatars.Upload(c.Request.Context(), name, data)
	if err != nil {
		h.writeError(c, "upload_avatar", err)
		return
	}
	ok(c, gin.H{"name": name, "url": url})
}

func (h *Handler) ServeAvatar(c *gin.Context) {
	p, err := h.Avatars.Open(c.Param("name"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, objectstore.ErrInvalidName) {
			fail(c, http.StatusNotFound, 40400, "not found")
			return
		}
		h.writeError(c, "serve_avatar", err)
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.File(p)
}

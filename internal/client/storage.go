package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
)

// Upload stores an avatar and returns its public URL.
func (c *Client) Upload(ctx context.Context, fileName string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", fileName); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	raw, err := c.send(ctx, request{
		method: http.MethodPost,
		path:   "/storage/avatars",
		body:   &buf,
		ctype:  mw.FormDataContentType(),
		auth:   true,
	})
	if err != nil {
		return "", err
	}
	var env struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("client: decode upload: %w", err)
	}
	return env.Data.URL, nil
}

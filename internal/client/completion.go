package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/suPer8Hu/keystone/internal/chatsync"
)

type jobView struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Result *string `json:"result"`
	Error  *string `json:"error"`
}

type jobResp struct {
	Job jobView `json:"job"`
}

func newIdempotencyKey() string {
	return ulid.Make().String()
}

// Complete returns the assistant's reply to message.
func (c *Client) Complete(ctx context.Context, message string) (string, error) {
	return c.CompleteInChat(ctx, "", message)
}

// CompleteInChat is Complete with chatID's stored messages as history. Jobs
// and signed-out callers get a plain completion.
func (c *Client) CompleteInChat(ctx context.Context, chatID, message string) (string, error) {
	if c.async {
		return c.completeAsync(ctx, message)
	}

	body := map[string]string{"message": message}
	if chatID != "" && c.Token() != "" {
		body["chat_id"] = chatID
	}
	r, err := jsonRequest(http.MethodPost, "/chat", body, false)
	if err != nil {
		return "", err
	}
	if c.Token() != "" {
		r.auth = true
	}
	raw, err := c.send(ctx, r)
	if err != nil {
		return "", err
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("client: decode completion: %w", err)
	}
	return out.Response, nil
}

func (c *Client) completeAsync(ctx context.Context, message string) (string, error) {
	r, err := jsonRequest(http.MethodPost, "/chat/jobs", map[string]string{"message": message}, true)
	if err != nil {
		return "", err
	}
	// a retried submit with the same key reuses the job
	r.headers = map[string]string{"Idempotency-Key": c.newKey()}

	raw, err := c.send(ctx, r)
	if err != nil {
		return "", err
	}
	var env struct {
		Data struct {
			JobID string `json:"job_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("client: decode job: %w", err)
	}
	return c.waitJob(ctx, env.Data.JobID)
}

func (c *Client) waitJob(ctx context.Context, jobID string) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := call[jobResp](ctx, c, http.MethodGet, "/chat/jobs/"+url.PathEscape(jobID), nil, true)
		if err != nil {
			return "", err
		}

		switch resp.Job.Status {
		case "succeeded":
			if resp.Job.Result == nil {
				return "", nil
			}
			return *resp.Job.Result, nil
		case "failed":
			msg := "completion failed"
			if resp.Job.Error != nil {
				msg = *resp.Job.Error
			}
			return "", &chatsync.RemoteError{Status: http.StatusBadGateway, Message: msg}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Package publish hands final session content to the publishing pipeline.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Pipeline interface {
	Publish(ctx context.Context, content string, mediaRefs []string, authorID string) (postID string, err error)
}

type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type PublishRequest struct {
	Content   string   `json:"content"`
	MediaRefs []string `json:"media_refs"`
	AuthorID  string   `json:"author_id"`
}

type PublishResponse struct {
	PostID string `json:"post_id"`
}

func (c *Client) Publish(ctx context.Context, content string, mediaRefs []string, authorID string) (string, error) {
	body, err := json.Marshal(PublishRequest{Content: content, MediaRefs: mediaRefs, AuthorID: authorID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/posts", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf(
			"publish pipeline error: status=%d body=%s",
			resp.StatusCode,
			string(b),
		)
	}

	var payload PublishResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.PostID == "" {
		return "", fmt.Errorf("publish pipeline returned no post id")
	}
	return payload.PostID, nil
}

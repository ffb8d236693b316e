// Package ai — тонкий клиент внешнего сервиса генерации ответов ассистента.
// Ядро доставки знает только его контракт: POST /api/reply -> {reply}.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client вызывает сервис ассистента. Если URL пустой — ассистент отключён.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. baseURL пустой — ассистент отключён.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Enabled сообщает, настроен ли внешний сервис.
func (c *Client) Enabled() bool { return c.baseURL != "" }

type replyRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type replyResponse struct {
	Reply string `json:"reply"`
}

// Reply пересылает текст пользователя сервису и возвращает ответ ассистента.
func (c *Client) Reply(ctx context.Context, userID, text string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("ai service not configured")
	}
	body, err := json.Marshal(replyRequest{UserID: userID, Text: text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/reply", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ai reply: %d", resp.StatusCode)
	}
	var out replyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ai reply decode: %w", err)
	}
	return out.Reply, nil
}

// Package memory — in-memory реализация SessionStore для режима -dev,
// когда Redis не поднят. Состояние не переживает перезапуск.
package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	userID    string
	expiresAt time.Time
}

type Client struct {
	mu       sync.Mutex
	sessions map[string]entry
}

func New() *Client {
	return &Client{sessions: make(map[string]entry)}
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.sessions = make(map[string]entry)
	c.mu.Unlock()
	return nil
}

func (c *Client) GetSessionUser(_ context.Context, sessionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[sessionID]
	if !ok {
		return "", nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.sessions, sessionID)
		return "", nil
	}
	return e.userID, nil
}

func (c *Client) SetSessionUser(_ context.Context, sessionID, userID string, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.sessions[sessionID] = entry{userID: userID, expiresAt: exp}
	c.mu.Unlock()
	return nil
}

func (c *Client) DeleteSession(_ context.Context, sessionID string) error {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	return nil
}

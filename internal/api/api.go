// Package api holds the typed call sites for the backend. Each function is
// a thin wrapper over the session gateway; none of them handle credentials.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aelexs/session-gateway/internal/domain"
	"github.com/aelexs/session-gateway/internal/session"
)

// Session is what the call sites need from *session.Gateway.
type Session interface {
	session.Sender
	SendPublic(ctx context.Context, req session.Request) (json.RawMessage, error)
	EstablishFromBody(ctx context.Context, body []byte) error
	Logout(ctx context.Context) error
}

var _ Session = (*session.Gateway)(nil)

// Profile is the signed-in user's account.
type Profile struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// ProfileUpdate holds the editable profile fields.
type ProfileUpdate struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Order is one order of the signed-in user.
type Order struct {
	ID        string    `json:"id"`
	Item      string    `json:"item"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewOrder is the body for CreateOrder.
type NewOrder struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

// Backend paths.
const (
	ProfilePath = "/api/profile"
	OrdersPath  = "/api/orders"
	LogoutPath  = "/api/logout"
)

// Client groups the call sites around one session.
type Client struct {
	s         Session
	loginPath string
}

// NewClient creates a Client. An empty loginPath uses domain.LoginPath.
func NewClient(s Session, loginPath string) *Client {
	if loginPath == "" {
		loginPath = domain.LoginPath
	}
	return &Client{s: s, loginPath: loginPath}
}

// Login exchanges a username and password for a session. A failed login
// never triggers a credential refresh.
func (c *Client) Login(ctx context.Context, username, password string) error {
	req, err := session.NewJSONRequest(http.MethodPost, c.loginPath, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return err
	}
	payload, err := c.s.SendPublic(ctx, req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return c.s.EstablishFromBody(ctx, payload)
}

// Logout ends the session on the backend, then locally. The local session is
// cleared even when the backend call fails.
func (c *Client) Logout(ctx context.Context) error {
	_, remoteErr := c.s.Send(ctx, session.Request{Method: http.MethodPost, Path: LogoutPath})
	if err := c.s.Logout(ctx); err != nil {
		return err
	}
	if remoteErr != nil && !domain.IsAuthError(remoteErr) {
		return fmt.Errorf("backend logout: %w", remoteErr)
	}
	return nil
}

// GetProfile returns the signed-in user's profile.
func (c *Client) GetProfile(ctx context.Context) (Profile, error) {
	return session.Decode[Profile](ctx, c.s, session.Request{Method: http.MethodGet, Path: ProfilePath})
}

// UpdateProfile replaces the editable profile fields.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (Profile, error) {
	req, err := session.NewJSONRequest(http.MethodPut, ProfilePath, upd)
	if err != nil {
		return Profile{}, err
	}
	return session.Decode[Profile](ctx, c.s, req)
}

// ListOrders returns the signed-in user's orders.
func (c *Client) ListOrders(ctx context.Context) ([]Order, error) {
	return session.Decode[[]Order](ctx, c.s, session.Request{Method: http.MethodGet, Path: OrdersPath})
}

// CreateOrder places an order.
func (c *Client) CreateOrder(ctx context.Context, in NewOrder) (Order, error) {
	req, err := session.NewJSONRequest(http.MethodPost, OrdersPath, in)
	if err != nil {
		return Order{}, err
	}
	return session.Decode[Order](ctx, c.s, req)
}

// Get performs an authenticated GET of path and returns the raw payload.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.s.Send(ctx, session.Request{Method: http.MethodGet, Path: path})
}

package userapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"cryptodash/internal/domain"
)

// Registration is the body of POST /register.
type Registration struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Register creates an account and stores the issued token.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	var tok tokenResponse
	if err := c.do(ctx, http.MethodPost, "/register", reg, &tok); err != nil {
		return err
	}
	return c.storeToken(ctx, tok)
}

// Login exchanges credentials for a token and stores it.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}
	var tok tokenResponse
	if err := c.do(ctx, http.MethodPost, "/login", body, &tok); err != nil {
		return err
	}
	return c.storeToken(ctx, tok)
}

func (c *Client) storeToken(ctx context.Context, tok tokenResponse) error {
	if tok.AccessToken == "" {
		return errors.New("login response carried no access token")
	}
	if err := c.tokens.SetToken(ctx, tok.AccessToken); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	return nil
}

// Logout ends the session server-side and always clears the local token.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/logout", nil, nil)
	if cerr := c.tokens.ClearToken(ctx); cerr != nil {
		return fmt.Errorf("clearing token: %w", cerr)
	}
	if errors.Is(err, ErrUnauthorized) {
		return nil
	}
	return err
}

// CheckUser reports whether an account exists for email.
func (c *Client) CheckUser(ctx context.Context, email string) (bool, error) {
	var body struct {
		Exists bool `json:"exists"`
	}
	if err := c.do(ctx, http.MethodGet, "/check-user/"+url.PathEscape(email), nil, &body); err != nil {
		return false, err
	}
	return body.Exists, nil
}

// ---------------------------------------------------------------------------
// Profile
// ---------------------------------------------------------------------------

// ProfileUpdate is the body of PUT /profile.
type ProfileUpdate struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

// Profile returns the signed-in user's profile.
func (c *Client) Profile(ctx context.Context) (domain.Profile, error) {
	var p domain.Profile
	err := c.do(ctx, http.MethodGet, "/profile", nil, &p)
	return p, err
}

// UpdateProfile changes the user's names.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (domain.Profile, error) {
	var p domain.Profile
	err := c.do(ctx, http.MethodPut, "/profile", upd, &p)
	return p, err
}

// ChangePassword replaces the user's password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	body := map[string]string{"current_password": current, "new_password": next}
	return c.do(ctx, http.MethodPost, "/change-password", body, nil)
}

// DeleteAccount removes the account and clears the local token.
func (c *Client) DeleteAccount(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/account", nil, nil); err != nil {
		return err
	}
	return c.tokens.ClearToken(ctx)
}

package backend

import (
	"context"
	"net/http"
	"strings"

	"ureka/internal/models"
)

const usersPath = "/v1/api/users"

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// GoogleToken is the credential returned by the Google identity button.
type GoogleToken struct {
	Credential string `json:"credential"`
}

type ProfileUpdate struct {
	Name    *string `json:"name,omitempty"`
	Picture *string `json:"picture,omitempty"`
}

// AuthResult is a signed-in user plus the backend cookie that proves it.
type AuthResult struct {
	User   *models.User
	Cookie string
}

// userResponse accepts both {"user": {...}} and a bare user object.
type userResponse struct {
	User    *models.User `json:"user"`
	ID      string       `json:"id"`
	Email   string       `json:"email"`
	Name    string       `json:"name"`
	Picture string       `json:"picture"`
}

func (r *userResponse) resolve() *models.User {
	if r.User != nil {
		return r.User
	}
	if r.ID == "" && r.Email == "" {
		return nil
	}
	return &models.User{ID: r.ID, Email: r.Email, Name: r.Name, Picture: r.Picture}
}

func (c *Client) authenticate(ctx context.Context, path string, payload any) (*AuthResult, error) {
	req, err := jsonRequest(http.MethodPost, usersPath+path, payload)
	if err != nil {
		return nil, err
	}
	var resp userResponse
	set, err := c.do(ctx, req, &resp)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: resp.resolve(), Cookie: mergeCookies("", set)}, nil
}

func (c *Client) SignIn(ctx context.Context, creds Credentials) (*AuthResult, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || creds.Password == "" {
		return nil, invalid("email and password are required")
	}
	return c.authenticate(ctx, "/sign-in", creds)
}

func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (*AuthResult, error) {
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return nil, invalid("email and password are required")
	}
	return c.authenticate(ctx, "/sign-up", req)
}

func (c *Client) GoogleAuth(ctx context.Context, token GoogleToken) (*AuthResult, error) {
	if token.Credential == "" {
		return nil, invalid("google credential is required")
	}
	return c.authenticate(ctx, "/auth/google", token)
}

func (c *Client) GoogleCallback(ctx context.Context, code, state string) (*AuthResult, error) {
	if code == "" {
		return nil, invalid("authorization code is required")
	}
	return c.authenticate(ctx, "/auth/callback/google", map[string]string{"code": code, "state": state})
}

func (u *UserClient) LogOut(ctx context.Context) error {
	req, err := jsonRequest(http.MethodPost, usersPath+"/log-out", nil)
	if err != nil {
		return err
	}
	return u.do(ctx, req, nil)
}

// CheckUser returns the user the cookie belongs to.
func (u *UserClient) CheckUser(ctx context.Context) (*models.User, error) {
	req, err := jsonRequest(http.MethodGet, usersPath+"/check-user", nil)
	if err != nil {
		return nil, err
	}
	var resp userResponse
	if err := u.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return resp.resolve(), nil
}

func (u *UserClient) UpdateProfile(ctx context.Context, update ProfileUpdate) (*models.User, error) {
	if update.Name == nil && update.Picture == nil {
		return nil, invalid("nothing to update")
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, invalid("name cannot be empty")
	}
	req, err := jsonRequest(http.MethodPut, usersPath+"/profile", update)
	if err != nil {
		return nil, err
	}
	var resp userResponse
	if err := u.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return resp.resolve(), nil
}

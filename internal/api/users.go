package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"ureka/internal/auth"
	"ureka/internal/backend"
	"ureka/internal/session"
)

const oauthStateCookie = "oauth_state"

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type callbackRequest struct {
	Code  string `json:"code" form:"code"`
	State string `json:"state" form:"state"`
}

func (h *Handler) signIn(c *gin.Context) {
	var req backend.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := h.backend.SignIn(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.startSession(c, res, false, http.StatusOK)
}

func (h *Handler) signUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := h.backend.SignUp(c.Request.Context(), backend.SignUpRequest(req))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.startSession(c, res, false, http.StatusCreated)
}

func (h *Handler) googleAuth(c *gin.Context) {
	var req backend.GoogleToken
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := h.backend.GoogleAuth(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.startSession(c, res, true, http.StatusOK)
}

func (h *Handler) googleURL(c *gin.Context) {
	state, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate state failed"})
		return
	}
	url, err := h.auth.GoogleAuthURL(state)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	setCookie(c, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		MaxAge:   600,
		Path:     "/",
		Secure:   gin.Mode() == gin.ReleaseMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	c.JSON(http.StatusOK, gin.H{"url": url, "state": state})
}

// googleCallback finishes the redirect flow. The state must match the one
// handed out by googleURL when that cookie is present.
func (h *Handler) googleCallback(c *gin.Context) {
	var req callbackRequest
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if expected, err := c.Cookie(oauthStateCookie); err == nil && expected != "" && expected != req.State {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state mismatch"})
		return
	}
	res, err := h.backend.GoogleCallback(c.Request.Context(), req.Code, req.State)
	if err != nil {
		h.respondError(c, err)
		return
	}
	setCookie(c, &http.Cookie{Name: oauthStateCookie, Value: "", MaxAge: -1, Path: "/"})
	h.startSession(c, res, true, http.StatusOK)
}

// startSession turns a backend sign-in into a local session and hands the
// client its auth and csrf cookies.
func (h *Handler) startSession(c *gin.Context, res *backend.AuthResult, google bool, status int) {
	if res == nil || res.User == nil || res.User.ID == "" {
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend returned no user"})
		return
	}
	sess := &session.Session{
		User:                    res.User,
		IsFirebaseAuthenticated: google,
		BackendCookie:           res.Cookie,
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), sess)
	if err != nil {
		log.Printf("issue token for user %s: %v", res.User.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate csrf token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(status, gin.H{
		"user":       res.User,
		"auth_token": authToken,
		"csrf_token": csrfToken,
	})
}

// logOut signs out of the backend on a best-effort basis; the local session
// is cleared regardless.
func (h *Handler) logOut(c *gin.Context) {
	ctx := c.Request.Context()
	if sess, ok := auth.SessionFromContext(c); ok && sess.BackendCookie != "" {
		if err := h.backend.Bind(sess.BackendCookie).LogOut(ctx); err != nil {
			log.Printf("backend log-out failed: %v", err)
		}
	}
	token, _ := auth.AuthTokenFromContext(c)
	if err := h.auth.RevokeToken(ctx, token); err != nil {
		log.Printf("revoke token failed: %v", err)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

// checkUser confirms the backend still accepts the cookie. A rejected
// cookie ends the local session too.
func (h *Handler) checkUser(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	user, err := ws.Client.CheckUser(c.Request.Context())
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			token, _ := auth.AuthTokenFromContext(c)
			_ = h.auth.RevokeToken(c.Request.Context(), token)
			h.clearAuthCookies(c)
		}
		h.respondError(c, err)
		return
	}
	if user == nil {
		sess, _ := auth.SessionFromContext(c)
		user = sess.User
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req backend.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	user, err := ws.Client.UpdateProfile(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	sess, _ := auth.SessionFromContext(c)
	if user == nil {
		u := *sess.User
		if req.Name != nil {
			u.Name = *req.Name
		}
		if req.Picture != nil {
			u.Picture = *req.Picture
		}
		user = &u
	}
	sess.User = user
	sess.BackendCookie = ws.Client.Cookie()
	if err := h.sessions.Update(c.Request.Context(), sess); err != nil {
		log.Printf("save session after profile update: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) getPreferences(c *gin.Context) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}
	prefs, err := h.sessions.Preferences(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (h *Handler) savePreferences(c *gin.Context) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}
	var prefs session.Preferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.sessions.SavePreferences(c.Request.Context(), userID, &prefs); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

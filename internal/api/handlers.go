package api

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"ureka/internal/auth"
	"ureka/internal/backend"
	"ureka/internal/query"
	"ureka/internal/session"
	"ureka/internal/store"
	"ureka/internal/upload"
	"ureka/internal/workspace"
)

// Handler exposes the gateway routes: auth proxying, chat state, folders
// and uploads for the signed-in user.
type Handler struct {
	auth       *auth.Service
	sessions   *session.Manager
	workspaces *workspace.Manager
	backend    *backend.Client
	maxUpload  int64
}

// NewHandler constructs a Handler instance.
func NewHandler(authService *auth.Service, sessions *session.Manager, workspaces *workspace.Manager, client *backend.Client, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = upload.DefaultMaxBytes
	}
	return &Handler{
		auth:       authService,
		sessions:   sessions,
		workspaces: workspaces,
		backend:    client,
		maxUpload:  maxUpload,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/users/sign-in", h.signIn)
	api.POST("/users/sign-up", h.signUp)
	api.POST("/users/auth/google", h.googleAuth)
	api.GET("/users/auth/google/url", h.googleURL)
	api.GET("/users/auth/callback/google", h.googleCallback)
	api.POST("/users/auth/callback/google", h.googleCallback)

	authed := api.Group("")
	authed.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())

	users := authed.Group("/users")
	users.POST("/log-out", h.logOut)
	users.GET("/check-user", h.checkUser)
	users.PUT("/profile", h.updateProfile)
	users.GET("/preferences", h.getPreferences)
	users.PUT("/preferences", h.savePreferences)

	chats := authed.Group("/chats")
	chats.GET("", h.listChats)
	chats.POST("", h.createChat)
	chats.GET("/:chat_id", h.getChat)
	chats.PATCH("/:chat_id", h.updateChat)
	chats.DELETE("/:chat_id", h.deleteChat)
	chats.POST("/:chat_id/activate", h.activateChat)
	chats.POST("/:chat_id/messages", h.addMessage)
	chats.PATCH("/:chat_id/messages/:message_id", h.editMessage)
	chats.DELETE("/:chat_id/messages/:message_id", h.deleteMessage)
	chats.POST("/:chat_id/query", h.queryChat)
	chats.POST("/:chat_id/attachments", h.attachFile)
	chats.DELETE("/:chat_id/attachments/:file_id", h.detachFile)

	folders := authed.Group("/folders")
	folders.GET("", h.listFolders)
	folders.POST("", h.createFolder)
	folders.PATCH("/:folder_id", h.renameFolder)
	folders.DELETE("/:folder_id", h.deleteFolder)
	folders.POST("/:folder_id/toggle", h.toggleFolder)
	folders.POST("/:folder_id/select", h.selectFolder)

	data := authed.Group("/data")
	data.POST("/upload-file", h.uploadFile)
	data.GET("/upload-status", h.uploadStatus)
	data.POST("/upload-remove", h.uploadRemove)
	data.GET("/files", h.listFiles)
	data.DELETE("/files/:file_id", h.deleteFile)
}

// workspace resolves the caller's workspace, binding it to the backend
// cookie held in the session.
func (h *Handler) workspace(c *gin.Context) (*workspace.Workspace, bool) {
	sess, ok := auth.SessionFromContext(c)
	if !ok || sess.User == nil || sess.User.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, false
	}
	ws, err := h.workspaces.Get(c.Request.Context(), sess)
	if err != nil {
		log.Printf("load workspace for user %s: %v", sess.User.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load workspace failed"})
		return nil, false
	}
	return ws, true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		msg = apiErr.Detail
	}
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func statusFor(err error) int {
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Status < http.StatusBadRequest {
			return http.StatusBadGateway
		}
		return apiErr.Status
	case errors.Is(err, backend.ErrValidation),
		errors.Is(err, upload.ErrInvalidFile),
		errors.Is(err, store.ErrInvalidName),
		errors.Is(err, query.ErrEmptyQuery),
		errors.Is(err, session.ErrInvalidTheme):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrChatNotFound),
		errors.Is(err, store.ErrMessageNotFound),
		errors.Is(err, store.ErrFileNotFound),
		errors.Is(err, store.ErrFolderNotFound),
		errors.Is(err, upload.ErrNotTracked),
		errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, store.ErrFileNotReady):
		return http.StatusConflict
	case errors.Is(err, backend.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}

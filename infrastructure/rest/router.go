// Package rest is the HTTP surface next to the websocket relay: account
// endpoints, the user directory, conversation history and attachment download.
package rest

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/infrastructure/storage"
	"chat-relay/services"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Handler struct {
	log       *slog.Logger
	auth      services.IAuthService
	directory services.IDirectoryService
	blobs     contract.BlobStore
	cookie    auth.CookieOptions
}

func NewHandler(log *slog.Logger, authService services.IAuthService, directory services.IDirectoryService,
	blobs contract.BlobStore, cookie auth.CookieOptions) *Handler {
	return &Handler{log: log, auth: authService, directory: directory, blobs: blobs, cookie: cookie}
}

// NewRouter mounts every route, the websocket upgrade included, on a gin engine.
func NewRouter(h *Handler, ws http.Handler, clientURL string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), Origin(clientURL))

	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	r.POST("/logout", h.Logout)
	r.GET("/profile", h.RequireIdentity(), h.Profile)
	r.GET("/people", h.People)
	r.GET("/messages/:userId", h.RequireIdentity(), h.Messages)
	r.GET("/uploads/:key", h.Upload)
	r.GET("/ws", gin.WrapH(ws))
	return r
}

// Origin allows credentialed cross origin calls from the browser client only.
func Origin(clientURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && origin == clientURL {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequireIdentity resolves the session cookie and aborts with 401 when it is
// missing or invalid.
func (h *Handler) RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(h.cookie.Name)
		identity, err := h.auth.Profile(token)
		if err != nil {
			h.writeError(c, err)
			c.Abort()
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func (h *Handler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	session, err := h.auth.Register(req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	auth.SetCookie(c.Writer, session.Token, session.ExpiresAt, h.cookie)
	c.JSON(http.StatusCreated, gin.H{"id": session.UserID})
}

func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	session, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	auth.SetCookie(c.Writer, session.Token, session.ExpiresAt, h.cookie)
	c.JSON(http.StatusOK, gin.H{"id": session.UserID})
}

func (h *Handler) Logout(c *gin.Context) {
	auth.ClearCookie(c.Writer, h.cookie)
	c.JSON(http.StatusOK, "ok")
}

func (h *Handler) Profile(c *gin.Context) {
	c.JSON(http.StatusOK, identityOf(c).Presence())
}

func (h *Handler) People(c *gin.Context) {
	people, err := h.directory.People()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, people)
}

func (h *Handler) Messages(c *gin.Context) {
	me := identityOf(c)
	history, err := h.directory.History(c.Request.Context(), me.UserID, c.Param("userId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) Upload(c *gin.Context) {
	data, err := h.blobs.Retrieve(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, storage.ContentType(data), data)
}

func identityOf(c *gin.Context) *domain.Identity {
	identity := c.MustGet(identityKey).(domain.Identity)
	return &identity
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case stderrors.Is(err, errors.ErrUnauthenticated),
		stderrors.Is(err, errors.ErrInvalidCredentials),
		stderrors.Is(err, errors.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": errors.ErrUnauthenticated.Error()})
	case stderrors.Is(err, errors.ErrUserAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case stderrors.Is(err, errors.ErrInvalidRegistration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case stderrors.Is(err, errors.ErrBlobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.log.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

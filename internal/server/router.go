package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/notekeeper/internal/auth"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/collection"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "notekeeper_user_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingDocumentService  = errors.New("document service dependency required")
	errInvalidAuthorization    = errors.New("session token missing")
)

// SessionValidator authenticates a request from its bearer header or session
// cookie.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// DocumentService is the persistence behind the note routes.
type DocumentService interface {
	Add(ctx context.Context, userID string, input collection.Input) (string, error)
	Update(ctx context.Context, userID, id string, input collection.Input) error
	Delete(ctx context.Context, userID, id string) error
	List(ctx context.Context, userID string) ([]collection.Document, error)
}

type Dependencies struct {
	SessionValidator SessionValidator
	Documents        DocumentService
	RateLimiter      *RateLimiter
	AllowedOrigins   []string
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Documents == nil {
		return nil, errMissingDocumentService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:  deps.SessionValidator,
		documents: deps.Documents,
		limiter:   deps.RateLimiter,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest, handler.limitRequests)
	protected.GET("/notes", handler.handleListNotes)
	protected.POST("/notes", handler.handleCreateNote)
	protected.PUT("/notes/:id", handler.handleUpdateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Retry-After", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

type httpHandler struct {
	sessions  SessionValidator
	documents DocumentService
	limiter   *RateLimiter
	logger    *zap.Logger
}

type documentPayload struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	IsCompleted bool   `json:"isCompleted"`
	UserID      string `json:"userId"`
	CreatedAt   int64  `json:"createdAt"`
}

type noteResponsePayload struct {
	ID string `json:"id"`
	documentPayload
}

type listResponsePayload struct {
	Notes []noteResponsePayload `json:"notes"`
}

func (p documentPayload) input() collection.Input {
	return collection.Input{
		Title:           p.Title,
		Content:         p.Content,
		IsCompleted:     p.IsCompleted,
		UserID:          strings.TrimSpace(p.UserID),
		CreatedAtMillis: p.CreatedAt,
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	documents, err := h.documents.List(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, "list_failed", err)
		return
	}

	response := listResponsePayload{Notes: make([]noteResponsePayload, 0, len(documents))}
	for _, document := range documents {
		response.Notes = append(response.Notes, noteResponsePayload{
			ID: document.ID,
			documentPayload: documentPayload{
				Title:       document.Title,
				Content:     document.Content,
				IsCompleted: document.IsCompleted,
				UserID:      document.UserID,
				CreatedAt:   document.CreatedAtMillis,
			},
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request documentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	id, err := h.documents.Add(c.Request.Context(), userID, request.input())
	if err != nil {
		h.respondServiceError(c, "create_failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}

	var request documentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.documents.Update(c.Request.Context(), userID, id, request.input()); err != nil {
		h.respondServiceError(c, "update_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}

	if err := h.documents.Delete(c.Request.Context(), userID, id); err != nil {
		h.respondServiceError(c, "delete_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) respondServiceError(c *gin.Context, fallback string, err error) {
	switch {
	case errors.Is(err, collection.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	case errors.Is(err, collection.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	h.logger.Error("note request failed", zap.String("reason", fallback), zap.Error(err))
	payload := gin.H{"error": fallback}
	var serviceErr *collection.ServiceError
	if errors.As(err, &serviceErr) {
		payload["code"] = serviceErr.Code()
	}
	c.JSON(http.StatusInternalServerError, payload)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
			return
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

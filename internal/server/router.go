package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/agoralabs/agora/internal/archive"
	"github.com/agoralabs/agora/internal/chat"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errMissingRoom = errors.New("chat room dependency required")

// Dependencies collects the collaborators for the HTTP surface. Archive
// is optional; the transcript endpoints are only registered when it is
// present.
type Dependencies struct {
	Room    *chat.Room
	Archive *archive.Archive
	Logger  *zap.Logger
}

// NewHTTPHandler builds the Gin router exposing health, the read-only
// message snapshot, the archive transcript, and the websocket endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Room == nil {
		return nil, errMissingRoom
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		room:    deps.Room,
		archive: deps.Archive,
		logger:  logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/messages", handler.handleMessages)
	router.GET("/ws", handler.handleWebsocket)
	if deps.Archive != nil {
		router.GET("/archive/messages", handler.handleArchivedMessages)
	}

	return router, nil
}

type httpHandler struct {
	room    *chat.Room
	archive *archive.Archive
	logger  *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.room.Count(),
		"messages": h.room.MessageCount(),
	})
}

type messagesResponsePayload struct {
	Messages []chat.MessageView `json:"messages"`
}

// handleMessages serves the consistent point-in-time snapshot of the
// live message log for non-real-time observers.
func (h *httpHandler) handleMessages(c *gin.Context) {
	c.JSON(http.StatusOK, messagesResponsePayload{Messages: h.room.Snapshot()})
}

func (h *httpHandler) handleArchivedMessages(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	records, err := h.archive.RecentMessages(limit)
	if err != nil {
		h.logger.Error("failed to read archived messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "archive_read_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": records})
}

package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parkwatch/internal/config"
	"parkwatch/internal/pipeline"
	"parkwatch/internal/service"
)

type Handler struct {
	vehicleService *service.VehicleService
	config         *config.Config
	evidenceDir    string
	frames         *pipeline.FrameQueue
	log            zerolog.Logger
}

// NewHandler wires the API surface. frames may be nil when the frame pipeline
// is not running in this process; the ingest endpoint then answers 503.
func NewHandler(
	vehicleService *service.VehicleService,
	cfg *config.Config,
	evidenceDir string,
	frames *pipeline.FrameQueue,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		vehicleService: vehicleService,
		config:         cfg,
		evidenceDir:    evidenceDir,
		frames:         frames,
		log:            log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))

	// Evidence images, addressed by the paths stored on records.
	r.Static("/pictures", h.evidenceDir)

	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/auth/login", h.login)
		public.POST("/frames", h.ingestFrame)
		public.GET("/vehicles", h.listVehicles)
		public.GET("/vehicles/latest", h.latestVehicles)
		public.GET("/vehicles/:id", h.getVehicle)
		public.GET("/stats", h.stats)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.DELETE("/vehicles/:id", h.deleteVehicle)
	}
}

func (h *Handler) listVehicles(c *gin.Context) {
	var illegal *string
	if q := strings.TrimSpace(c.Query("illegal")); q != "" {
		illegal = &q
	}

	var left *bool
	if q := strings.TrimSpace(c.Query("left")); q != "" {
		parsed, err := strconv.ParseBool(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("left must be a boolean"))
			return
		}
		left = &parsed
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	records, err := h.vehicleService.ListVehicles(c.Request.Context(), illegal, left, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(records))
}

func (h *Handler) latestVehicles(c *gin.Context) {
	since := strings.TrimSpace(c.Query("since"))

	records, err := h.vehicleService.LatestVehicles(c.Request.Context(), since)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(records))
}

func (h *Handler) getVehicle(c *gin.Context) {
	trackID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("id must be an integer"))
		return
	}

	record, err := h.vehicleService.GetVehicle(c.Request.Context(), trackID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(record))
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.vehicleService.Stats(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(stats))
}

func (h *Handler) deleteVehicle(c *gin.Context) {
	trackID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("id must be an integer"))
		return
	}

	if err := h.vehicleService.DeleteVehicle(c.Request.Context(), trackID); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

package http

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"lpr-service/internal/backup"
	"lpr-service/internal/config"
	"lpr-service/internal/domain/plate"
	"lpr-service/internal/export"
	"lpr-service/internal/pipeline"
	"lpr-service/internal/repository"
	"lpr-service/internal/service"
	"lpr-service/internal/vision"
)

type Handler struct {
	pool     *pipeline.Pool
	svc      *service.PipelineService
	repo     *repository.RecordRepository
	backups  *backup.Manager
	exporter *export.Exporter
	configs  *config.Manager
	scanner  *vision.Scanner
	log      zerolog.Logger
}

func NewHandler(
	pool *pipeline.Pool,
	svc *service.PipelineService,
	repo *repository.RecordRepository,
	backups *backup.Manager,
	exporter *export.Exporter,
	configs *config.Manager,
	scanner *vision.Scanner,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		pool:     pool,
		svc:      svc,
		repo:     repo,
		backups:  backups,
		exporter: exporter,
		configs:  configs,
		scanner:  scanner,
		log:      log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", h.health)

	public := r.Group("/api/v1")
	{
		public.POST("/candidates", h.submitCandidate)
		public.POST("/frames", h.submitFrame)
		public.GET("/records", h.listRecords)
		public.GET("/export", h.exportRecords)
	}

	admin := r.Group("/api/v1/admin")
	admin.Use(authMiddleware)
	{
		admin.GET("/settings", h.getSettings)
		admin.PUT("/settings", h.updateSettings)
		admin.POST("/purge", h.purgeAll)
		admin.POST("/purge-expired", h.purgeExpired)
		admin.POST("/backup", h.runBackup)
	}
}

func (h *Handler) submitCandidate(c *gin.Context) {
	var cand plate.RawCandidate
	if err := c.ShouldBindJSON(&cand); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if cand.CapturedAt.IsZero() {
		cand.CapturedAt = time.Now()
	}

	outcome := h.pool.Submit(c.Request.Context(), cand)
	c.JSON(outcomeStatus(outcome), gin.H{"outcome": outcome})
}

type frameRequest struct {
	SourceID   string    `json:"source_id"`
	Image      string    `json:"image"` // base64-encoded frame
	CapturedAt time.Time `json:"captured_at"`
}

// submitFrame runs the vision capabilities on a whole frame and feeds
// every resulting candidate through the pipeline.
func (h *Handler) submitFrame(c *gin.Context) {
	if h.scanner == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse("vision capability not configured"))
		return
	}

	var req frameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if req.SourceID == "" || req.Image == "" {
		c.JSON(http.StatusBadRequest, errorResponse("source_id and image are required"))
		return
	}
	frame, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("image is not valid base64"))
		return
	}
	if req.CapturedAt.IsZero() {
		req.CapturedAt = time.Now()
	}

	candidates, err := h.scanner.Scan(c.Request.Context(), req.SourceID, frame, req.CapturedAt)
	if err != nil {
		if errors.Is(err, vision.ErrCapabilityTimeout) {
			c.JSON(http.StatusGatewayTimeout, errorResponse("detector timed out, frame dropped"))
			return
		}
		h.log.Error().Err(err).Str("source_id", req.SourceID).Msg("frame scan failed")
		c.JSON(http.StatusBadGateway, errorResponse("detection failed"))
		return
	}

	outcomes := make([]plate.Outcome, 0, len(candidates))
	for _, cand := range candidates {
		outcomes = append(outcomes, h.pool.Submit(c.Request.Context(), cand))
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

// outcomeStatus maps pipeline outcomes to HTTP codes. Rejections are
// expected results, not faults.
func outcomeStatus(out plate.Outcome) int {
	switch out.Status {
	case plate.StatusAccepted:
		return http.StatusCreated
	case plate.StatusRejectedFormat, plate.StatusRejectedDuplicate:
		return http.StatusOK
	case plate.StatusInvalidInput:
		return http.StatusBadRequest
	case plate.StatusQueueSaturated:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) listRecords(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	records, err := h.repo.Query(c.Request.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to query records")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	c.JSON(http.StatusOK, successResponse(records))
}

func (h *Handler) exportRecords(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	format := export.Format(strings.ToLower(c.DefaultQuery("format", "csv")))

	path, err := h.exporter.Export(c.Request.Context(), filter, format)
	if err != nil {
		if errors.Is(err, export.ErrUnsupportedFormat) {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		h.log.Error().Err(err).Msg("failed to export records")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (h *Handler) health(c *gin.Context) {
	count, err := h.repo.Count(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("health check count failed")
	}

	degraded := h.backups.Degraded() || h.repo.ConsecutiveFaults() > 0
	status := "ok"
	if degraded {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"queue_depth":    h.pool.QueueDepth(),
		"record_count":   count,
		"storage_faults": h.repo.ConsecutiveFaults(),
		"backup_ok":      !h.backups.Degraded(),
	})
}

// SettingsUpdate carries the runtime-tunable pipeline knobs. Nil
// fields keep their current values.
type SettingsUpdate struct {
	DetectionWeight     *float64 `json:"detection_weight"`
	OCRWeight           *float64 `json:"ocr_weight"`
	ValidationEnabled   *bool    `json:"validation_enabled"`
	Patterns            []string `json:"patterns"`
	MinLength           *int     `json:"min_length"`
	MaxLength           *int     `json:"max_length"`
	MinAcceptConfidence *float64 `json:"min_accept_confidence"`
	DedupeEnabled       *bool    `json:"dedupe_enabled"`
	DuplicateWindow     *string  `json:"duplicate_window"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
}

func (h *Handler) getSettings(c *gin.Context) {
	cfg := h.configs.Current()
	c.JSON(http.StatusOK, gin.H{
		"fusion":     cfg.Fusion,
		"validation": cfg.Validation,
		"dedupe":     cfg.Dedupe,
	})
}

func (h *Handler) updateSettings(c *gin.Context) {
	var upd SettingsUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	var window *time.Duration
	if upd.DuplicateWindow != nil {
		d, err := time.ParseDuration(*upd.DuplicateWindow)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, errorResponse("invalid duplicate_window"))
			return
		}
		window = &d
	}

	next, err := h.configs.Apply(func(cfg *config.Config) {
		applyFloat(&cfg.Fusion.DetectionWeight, upd.DetectionWeight)
		applyFloat(&cfg.Fusion.OCRWeight, upd.OCRWeight)
		applyBool(&cfg.Validation.Enabled, upd.ValidationEnabled)
		if upd.Patterns != nil {
			cfg.Validation.Patterns = upd.Patterns
		}
		applyInt(&cfg.Validation.MinLength, upd.MinLength)
		applyInt(&cfg.Validation.MaxLength, upd.MaxLength)
		applyFloat(&cfg.Validation.MinAcceptConfidence, upd.MinAcceptConfidence)
		applyBool(&cfg.Dedupe.Enabled, upd.DedupeEnabled)
		if window != nil {
			cfg.Dedupe.TimeWindow = *window
		}
		applyFloat(&cfg.Dedupe.SimilarityThreshold, upd.SimilarityThreshold)
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := h.svc.Reconfigure(next); err != nil {
		h.log.Error().Err(err).Msg("failed to apply settings to pipeline")
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	h.log.Info().Msg("settings updated")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) purgeAll(c *gin.Context) {
	deleted, err := h.repo.PurgeAll(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to purge records")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	if sup := h.svc.Suppressor(); sup != nil {
		sup.Forget("")
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *Handler) purgeExpired(c *gin.Context) {
	deleted, err := h.repo.PurgeExpired(c.Request.Context(), time.Now())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to purge expired records")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *Handler) runBackup(c *gin.Context) {
	path, err := h.backups.Run(c.Request.Context(), time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func parseFilter(c *gin.Context) (plate.QueryFilter, error) {
	var filter plate.QueryFilter
	if p := strings.TrimSpace(c.Query("plate")); p != "" {
		filter.PlateText = &p
	}
	if s := strings.TrimSpace(c.Query("source")); s != "" {
		filter.SourceID = &s
	}
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		t, err := time.Parse(time.RFC3339, f)
		if err != nil {
			return filter, err
		}
		filter.From = &t
	}
	if to := strings.TrimSpace(c.Query("to")); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, err
		}
		filter.To = &t
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}
	return filter, nil
}

func applyFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func applyInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
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

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/survivor-ev/internal/api/middleware"
	"github.com/stitts-dev/survivor-ev/internal/cache"
	"github.com/stitts-dev/survivor-ev/internal/export"
	"github.com/stitts-dev/survivor-ev/internal/intake"
	"github.com/stitts-dev/survivor-ev/internal/models"
	"github.com/stitts-dev/survivor-ev/internal/services"
	"github.com/stitts-dev/survivor-ev/internal/simulator"
	"github.com/stitts-dev/survivor-ev/pkg/config"
	"github.com/stitts-dev/survivor-ev/pkg/utils"
)

// EVRequest is the editable player table plus run options.
type EVRequest struct {
	PoolSize   *float64        `json:"pool_size"`
	Mode       string          `json:"mode"`
	Iterations int             `json:"iterations"`
	Seed       int64           `json:"seed"`
	Players    []intake.RawRow `json:"players"`
}

// ValidateResponse echoes the cleaned table.
type ValidateResponse struct {
	Valid    bool                  `json:"valid"`
	Mode     models.Mode           `json:"mode"`
	PoolSize float64               `json:"pool_size"`
	Players  []models.PlayerRecord `json:"players"`
}

// DefaultsResponse is the table a new session starts with.
type DefaultsResponse struct {
	PoolSize        float64         `json:"pool_size"`
	Players         []intake.RawRow `json:"players"`
	MaxExactPlayers int             `json:"max_exact_players"`
	Modes           []models.Mode   `json:"modes"`
}

// EVHandler serves EV computations
type EVHandler struct {
	service *services.EVService
	config  *config.Config
	logger  *logrus.Logger
}

func NewEVHandler(service *services.EVService, cfg *config.Config, logger *logrus.Logger) *EVHandler {
	return &EVHandler{
		service: service,
		config:  cfg,
		logger:  logger,
	}
}

// ComputeEV handles POST /api/v1/ev
func (h *EVHandler) ComputeEV(c *gin.Context) {
	result, ok := h.compute(c)
	if !ok {
		return
	}
	utils.SendSuccess(c, result)
}

// ExportEV handles POST /api/v1/ev/export
func (h *EVHandler) ExportEV(c *gin.Context) {
	result, ok := h.compute(c)
	if !ok {
		return
	}
	h.sendCSV(c, result)
}

// ValidatePlayers handles POST /api/v1/ev/validate
func (h *EVHandler) ValidatePlayers(c *gin.Context) {
	req, mode, ok := h.bind(c)
	if !ok {
		return
	}
	inst, ok := h.buildInstance(c, req, mode)
	if !ok {
		return
	}

	utils.SendSuccess(c, ValidateResponse{
		Valid:    true,
		Mode:     mode,
		PoolSize: inst.PoolSize,
		Players:  inst.Players,
	})
}

// GetDefaults handles GET /api/v1/ev/defaults
func (h *EVHandler) GetDefaults(c *gin.Context) {
	utils.SendSuccess(c, DefaultsResponse{
		PoolSize:        h.config.DefaultPoolSize,
		Players:         intake.DefaultRows(),
		MaxExactPlayers: h.config.MaxExactPlayers,
		Modes:           []models.Mode{models.ModeExact, models.ModeMonteCarlo},
	})
}

// GetResult handles GET /api/v1/ev/:id
func (h *EVHandler) GetResult(c *gin.Context) {
	result, ok := h.load(c)
	if !ok {
		return
	}
	utils.SendSuccess(c, result)
}

// GetResultCSV handles GET /api/v1/ev/:id/csv
func (h *EVHandler) GetResultCSV(c *gin.Context) {
	result, ok := h.load(c)
	if !ok {
		return
	}
	h.sendCSV(c, result)
}

func (h *EVHandler) bind(c *gin.Context) (*EVRequest, models.Mode, bool) {
	var req EVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Debug("Invalid EV request body")
		utils.SendError(c, http.StatusBadRequest,
			utils.NewAppError(utils.ErrCodeInvalidRequest, "Invalid request format", err.Error()))
		return nil, "", false
	}

	mode, ok := models.ParseMode(req.Mode)
	if !ok {
		utils.SendError(c, http.StatusBadRequest,
			utils.NewAppError(utils.ErrCodeInvalidRequest, "Unknown mode", req.Mode).WithField("field", "mode"))
		return nil, "", false
	}
	if req.Iterations < 0 {
		utils.SendValidationError(c, "Iterations must not be negative", "iterations")
		return nil, "", false
	}
	return &req, mode, true
}

func (h *EVHandler) buildInstance(c *gin.Context, req *EVRequest, mode models.Mode) (*models.ProblemInstance, bool) {
	poolSize := h.config.DefaultPoolSize
	if req.PoolSize != nil {
		poolSize = *req.PoolSize
	}

	inst, err := intake.BuildInstance(req.Players, poolSize, h.service.MaxPlayersFor(mode))
	if err != nil {
		h.handleError(c, err)
		return nil, false
	}
	return inst, true
}

func (h *EVHandler) compute(c *gin.Context) (*models.EVResult, bool) {
	req, mode, ok := h.bind(c)
	if !ok {
		return nil, false
	}
	inst, ok := h.buildInstance(c, req, mode)
	if !ok {
		return nil, false
	}

	result, err := h.service.Compute(c.Request.Context(), inst, services.RunOptions{
		Mode:       mode,
		Iterations: req.Iterations,
		Seed:       req.Seed,
	})
	if err != nil {
		h.handleError(c, err)
		return nil, false
	}

	tagRun(c, result)
	return result, true
}

// tagRun exposes the run to the request logger.
func tagRun(c *gin.Context, result *models.EVResult) {
	c.Set(middleware.RunIDKey, result.ID)
	c.Set(middleware.ModeKey, string(result.Mode))
	c.Set(middleware.PlayersKey, len(result.Players))
	c.Set(middleware.CachedKey, result.Cached)
}

func (h *EVHandler) load(c *gin.Context) (*models.EVResult, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		utils.SendError(c, http.StatusBadRequest,
			utils.NewAppError(utils.ErrCodeInvalidRequest, "Invalid result ID", id))
		return nil, false
	}

	result, err := h.service.GetResult(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			utils.SendNotFound(c, utils.ErrCodeResultNotFound, "Result not found or expired")
			return nil, false
		}
		h.handleError(c, err)
		return nil, false
	}
	tagRun(c, result)
	return result, true
}

func (h *EVHandler) sendCSV(c *gin.Context, result *models.EVResult) {
	data, err := export.MarshalCSV(result.Players)
	if err != nil {
		_ = c.Error(err)
		utils.SendError(c, http.StatusInternalServerError,
			utils.NewAppError(utils.ErrCodeExport, "Failed to export results"))
		return
	}
	utils.SendCSV(c, export.FileName, data)
}

func (h *EVHandler) handleError(c *gin.Context, err error) {
	var verr *intake.ValidationError
	var compErr *simulator.ComputationError

	switch {
	case errors.As(err, &verr):
		appErr := utils.NewAppError(verr.Code, verr.Message)
		if verr.Field != "" {
			appErr.WithField("field", verr.Field)
		}
		utils.SendError(c, http.StatusBadRequest, appErr)
	case errors.As(err, &compErr):
		utils.SendError(c, http.StatusUnprocessableEntity,
			utils.NewAppError(utils.ErrCodeComputation, "EV computation rejected the input", compErr.Error()))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.WithError(err).Warn("EV computation canceled")
		utils.SendError(c, http.StatusRequestTimeout,
			utils.NewAppError(utils.ErrCodeCanceled, "Request canceled before the computation finished"))
	default:
		_ = c.Error(err)
		utils.SendInternalError(c, "Failed to compute EV")
	}
}

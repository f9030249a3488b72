package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/thermline/hpfleet/internal/coremodel"
	"github.com/thermline/hpfleet/internal/storage/gormrepo"
	"github.com/thermline/hpfleet/internal/storage/models"
)

// ReadOnlyHandler 运维只读查询（gorm 只读侧，不碰核心写路径）
type ReadOnlyHandler struct {
	repo *gormrepo.Repository
	log  *zap.Logger
}

func NewReadOnlyHandler(repo *gormrepo.Repository, log *zap.Logger) *ReadOnlyHandler {
	return &ReadOnlyHandler{repo: repo, log: log}
}

// ListDevices GET /devices?limit=&offset=
func (h *ReadOnlyHandler) ListDevices(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	devices, total, err := h.repo.ListDevices(c.Request.Context(), limit, offset)
	if err != nil {
		h.internal(c, "list devices failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "total": total})
}

// GetLatestState GET /devices/:deviceId/latest
func (h *ReadOnlyHandler) GetLatestState(c *gin.Context) {
	st, err := h.repo.GetLatestState(c.Request.Context(), c.Param("deviceId"))
	if err != nil {
		h.internal(c, "latest state query failed", err)
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// RecentTelemetry GET /devices/:deviceId/telemetry?limit=
func (h *ReadOnlyHandler) RecentTelemetry(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	rows, err := h.repo.RecentTelemetry(c.Request.Context(), c.Param("deviceId"), limit)
	if err != nil {
		h.internal(c, "telemetry query failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"telemetry": rows})
}

// ListAlerts GET /alerts?deviceId=&state=&type=
func (h *ReadOnlyHandler) ListAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	rows, err := h.repo.ListAlerts(c.Request.Context(), gormrepo.AlertFilter{
		DeviceID: c.Query("deviceId"),
		State:    c.Query("state"),
		Type:     c.Query("type"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.internal(c, "alert query failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": rows})
}

// ListBaselines GET /devices/:deviceId/baselines
func (h *ReadOnlyHandler) ListBaselines(c *gin.Context) {
	rows, err := h.repo.ListBaselines(c.Request.Context(), c.Param("deviceId"))
	if err != nil {
		h.internal(c, "baseline query failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"baselines": rows})
}

// ListWrites GET /devices/:deviceId/writes?limit=
func (h *ReadOnlyHandler) ListWrites(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := h.repo.ListWrites(c.Request.Context(), c.Param("deviceId"), limit)
	if err != nil {
		h.internal(c, "write audit query failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"writes": rows})
}

type maintenanceRequest struct {
	Scope    string    `json:"scope" binding:"required"`
	DeviceID *string   `json:"deviceId"`
	SiteID   *string   `json:"siteId"`
	StartsAt time.Time `json:"startsAt" binding:"required"`
	EndsAt   time.Time `json:"endsAt" binding:"required"`
}

// CreateMaintenanceWindow POST /maintenance-windows
func (h *ReadOnlyHandler) CreateMaintenanceWindow(c *gin.Context) {
	var req maintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}

	scope := coremodel.MaintenanceScope(req.Scope)
	switch scope {
	case coremodel.ScopeDevice:
		if req.DeviceID == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "deviceId required for device scope"})
			return
		}
	case coremodel.ScopeSite:
		if req.SiteID == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "siteId required for site scope"})
			return
		}
	case coremodel.ScopeGlobal:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "scope must be device, site or global"})
		return
	}
	if !req.EndsAt.After(req.StartsAt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "endsAt must be after startsAt"})
		return
	}

	w := &models.MaintenanceWindow{
		Scope:    req.Scope,
		DeviceID: req.DeviceID,
		SiteID:   req.SiteID,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
	}
	if err := h.repo.CreateMaintenanceWindow(c.Request.Context(), w); err != nil {
		h.internal(c, "maintenance window create failed", err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// ListMaintenanceWindows GET /maintenance-windows
func (h *ReadOnlyHandler) ListMaintenanceWindows(c *gin.Context) {
	rows, err := h.repo.ListMaintenanceWindows(c.Request.Context(), time.Now())
	if err != nil {
		h.internal(c, "maintenance window query failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"windows": rows})
}

func (h *ReadOnlyHandler) internal(c *gin.Context, msg string, err error) {
	h.log.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
}

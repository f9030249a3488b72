package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/thermline/hpfleet/internal/actor"
	"github.com/thermline/hpfleet/internal/coremodel"
	"github.com/thermline/hpfleet/internal/metrics"
	"github.com/thermline/hpfleet/internal/storage"
)

// CommandHandler 指令面：入队 → 设备轮询 → 回执，全程审计到 writes 表
type CommandHandler struct {
	actors *actor.Registry
	store  storage.Store
	m      *metrics.AppMetrics
	log    *zap.Logger
}

func NewCommandHandler(actors *actor.Registry, store storage.Store, m *metrics.AppMetrics, log *zap.Logger) *CommandHandler {
	return &CommandHandler{actors: actors, store: store, m: m, log: log}
}

type enqueueRequest struct {
	SetpointC float64 `json:"setpointC" binding:"required"`
	Reason    string  `json:"reason"`
	TTLSec    int     `json:"ttlSec"`
}

// Enqueue POST /devices/:deviceId/commands
func (h *CommandHandler) Enqueue(c *gin.Context) {
	deviceID := c.Param("deviceId")
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	if req.SetpointC < 20 || req.SetpointC > 75 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "setpointC out of range [20, 75]"})
		return
	}

	if _, err := h.store.EnsureDevice(c.Request.Context(), deviceID); err != nil {
		h.log.Error("ensure device failed", zap.String("device_id", deviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	cmd, err := h.actors.Get(deviceID).EnqueueCommand(
		c.Request.Context(), req.SetpointC, req.Reason, time.Duration(req.TTLSec)*time.Second)
	if err != nil {
		h.log.Error("command enqueue failed", zap.String("device_id", deviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	if err := h.store.InsertWriteAudit(c.Request.Context(), &cmd); err != nil {
		h.log.Warn("write audit insert failed", zap.String("write_id", cmd.WriteID), zap.Error(err))
	}
	h.m.CommandTotal.WithLabelValues(string(cmd.Status)).Inc()
	c.JSON(http.StatusCreated, cmd)
}

// Poll GET /devices/:deviceId/commands/poll?max=10
// 设备侧拉取待下发指令；本次轮询标记为 expired 的指令补记审计
func (h *CommandHandler) Poll(c *gin.Context) {
	deviceID := c.Param("deviceId")
	max, _ := strconv.Atoi(c.DefaultQuery("max", "10"))

	a := h.actors.Get(deviceID)
	cmds, err := a.PollCommands(c.Request.Context(), max)
	if err != nil {
		h.log.Error("command poll failed", zap.String("device_id", deviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	now := time.Now()
	for _, cmd := range cmds {
		if err := h.store.UpdateWriteAudit(c.Request.Context(), cmd.WriteID, cmd.Status, cmd.Detail, now); err != nil {
			h.log.Warn("write audit update failed", zap.String("write_id", cmd.WriteID), zap.Error(err))
		}
		h.m.CommandTotal.WithLabelValues(string(cmd.Status)).Inc()
	}

	expired, err := a.ExpiredSince(c.Request.Context())
	if err == nil {
		for _, cmd := range expired {
			if err := h.store.UpdateWriteAudit(c.Request.Context(), cmd.WriteID, cmd.Status, cmd.Detail, now); err != nil {
				h.log.Warn("write audit update failed", zap.String("write_id", cmd.WriteID), zap.Error(err))
			}
		}
	}

	if cmds == nil {
		cmds = []coremodel.Command{}
	}
	c.JSON(http.StatusOK, gin.H{"commands": cmds})
}

type ackRequest struct {
	Status coremodel.CommandStatus `json:"status" binding:"required"`
	Detail string                  `json:"detail"`
}

// Acknowledge POST /devices/:deviceId/commands/:writeId/ack
func (h *CommandHandler) Acknowledge(c *gin.Context) {
	deviceID := c.Param("deviceId")
	writeID := c.Param("writeId")

	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	if req.Status != coremodel.CmdApplied && req.Status != coremodel.CmdFailed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "status must be applied or failed"})
		return
	}

	cmd, changed, err := h.actors.Get(deviceID).Acknowledge(c.Request.Context(), writeID, req.Status, req.Detail)
	if errors.Is(err, actor.ErrUnknownWrite) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown write id"})
		return
	}
	if err != nil {
		h.log.Error("command ack failed",
			zap.String("device_id", deviceID), zap.String("write_id", writeID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	if changed {
		ackedAt := time.Now()
		if cmd.AckedAt != nil {
			ackedAt = *cmd.AckedAt
		}
		if err := h.store.UpdateWriteAudit(c.Request.Context(), writeID, cmd.Status, cmd.Detail, ackedAt); err != nil {
			h.log.Warn("write audit update failed", zap.String("write_id", writeID), zap.Error(err))
		}
		h.m.CommandTotal.WithLabelValues(string(cmd.Status)).Inc()
		if cmd.Status == coremodel.CmdFailed {
			h.log.Warn("command dispatch failed",
				zap.String("device_id", deviceID),
				zap.String("write_id", writeID),
				zap.String("detail", cmd.Detail))
		}
	}
	c.JSON(http.StatusOK, cmd)
}

// State GET /devices/:deviceId/state：Actor 实时快照（最新样本 + 待处理指令）
func (h *CommandHandler) State(c *gin.Context) {
	deviceID := c.Param("deviceId")
	snap, err := h.actors.Get(deviceID).State(c.Request.Context())
	if err != nil {
		h.log.Error("actor state read failed", zap.String("device_id", deviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deviceId": deviceID,
		"latest":   snap.Latest,
		"pending":  snap.Pending,
	})
}

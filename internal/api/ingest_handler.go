// Package api HTTP 边界：摄取入口、指令面、只读查询。
// schema 校验发生在这里，核心链路只消费已验证载荷。
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/thermline/hpfleet/internal/coremodel"
	"github.com/thermline/hpfleet/internal/modbus"
)

// Publisher 摄取入队端（kafka 实现见 internal/ingest）
type Publisher interface {
	PublishTelemetry(ctx context.Context, p *coremodel.TelemetryPayload) error
	PublishHeartbeat(ctx context.Context, p *coremodel.HeartbeatPayload) error
}

// IngestHandler 摄取入口：校验后写队列，立即 202
type IngestHandler struct {
	pub Publisher
	log *zap.Logger
}

func NewIngestHandler(pub Publisher, log *zap.Logger) *IngestHandler {
	return &IngestHandler{pub: pub, log: log}
}

// PostTelemetry POST /ingest/telemetry
func (h *IngestHandler) PostTelemetry(c *gin.Context) {
	var p coremodel.TelemetryPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	if p.DeviceID == "" || p.Ts.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "deviceId and ts are required"})
		return
	}
	if err := h.pub.PublishTelemetry(c.Request.Context(), &p); err != nil {
		h.log.Error("telemetry publish failed", zap.String("device_id", p.DeviceID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue_unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// PostHeartbeat POST /ingest/heartbeat
func (h *IngestHandler) PostHeartbeat(c *gin.Context) {
	var p coremodel.HeartbeatPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	if p.DeviceID == "" || p.Ts.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "deviceId and ts are required"})
		return
	}
	if err := h.pub.PublishHeartbeat(c.Request.Context(), &p); err != nil {
		h.log.Error("heartbeat publish failed", zap.String("device_id", p.DeviceID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue_unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// modbusRequest 原始寄存器上报：网关侧读出寄存器后直传
type modbusRequest struct {
	DeviceID  string            `json:"deviceId"`
	Ts        time.Time         `json:"ts"`
	Registers map[string]uint16 `json:"registers"` // 地址（十进制或 0x 前缀十六进制）→ 原始值
}

// PostModbus POST /ingest/modbus：解码寄存器映射后按普通遥测入队
func (h *IngestHandler) PostModbus(c *gin.Context) {
	var req modbusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	if req.DeviceID == "" || req.Ts.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "deviceId and ts are required"})
		return
	}

	regs := make(map[uint16]uint16, len(req.Registers))
	for addr, val := range req.Registers {
		n, err := strconv.ParseUint(addr, 0, 16)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid register address: " + addr})
			return
		}
		regs[uint16(n)] = val
	}

	m, status, faults, err := modbus.Decode(regs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}

	p := &coremodel.TelemetryPayload{
		DeviceID: req.DeviceID,
		Ts:       req.Ts,
		Metrics:  m,
		Status:   status,
		Faults:   faults,
	}
	if err := h.pub.PublishTelemetry(c.Request.Context(), p); err != nil {
		h.log.Error("modbus telemetry publish failed", zap.String("device_id", p.DeviceID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue_unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

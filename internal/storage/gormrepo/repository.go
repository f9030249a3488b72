package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/thermline/hpfleet/internal/storage/models"
)

// Repository 只读侧仓储：运维查询 API 使用，不参与核心写路径。
// 核心写路径见 internal/storage/pg（pgx）。
type Repository struct {
	db *gorm.DB
}

// Open 基于同一个 DSN 打开 gorm 连接（只读查询用）
func Open(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return &Repository{db: db}, nil
}

// NewRepository 注入已有连接（测试用）
func NewRepository(db *gorm.DB) *Repository { return &Repository{db: db} }

// ListDevices 分页设备列表
func (r *Repository) ListDevices(ctx context.Context, limit, offset int) ([]models.Device, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Device{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.Device
	err := r.db.WithContext(ctx).
		Order("id").Limit(limit).Offset(offset).
		Find(&out).Error
	return out, total, err
}

// GetLatestState 设备最新状态快照行，不存在返回 nil
func (r *Repository) GetLatestState(ctx context.Context, deviceID string) (*models.LatestState, error) {
	var st models.LatestState
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// AlertFilter 告警查询条件
type AlertFilter struct {
	DeviceID string
	State    string
	Type     string
	Limit    int
	Offset   int
}

// ListAlerts 告警查询（按开启时间倒序）
func (r *Repository) ListAlerts(ctx context.Context, f AlertFilter) ([]models.Alert, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	q := r.db.WithContext(ctx).Model(&models.Alert{})
	if f.DeviceID != "" {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	var out []models.Alert
	err := q.Order("opened_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&out).Error
	return out, err
}

// RecentTelemetry 设备最近遥测（按时间倒序）
func (r *Repository) RecentTelemetry(ctx context.Context, deviceID string, limit int) ([]models.Telemetry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var out []models.Telemetry
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("ts DESC").Limit(limit).
		Find(&out).Error
	return out, err
}

// ListBaselines 设备基线列表（golden 优先）
func (r *Repository) ListBaselines(ctx context.Context, deviceID string) ([]models.DeviceBaseline, error) {
	var out []models.DeviceBaseline
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("golden DESC, created_at DESC").
		Find(&out).Error
	return out, err
}

// CreateMaintenanceWindow 建维护窗口（规则引擎消费，属核心协作面而非管理 CRUD）
func (r *Repository) CreateMaintenanceWindow(ctx context.Context, w *models.MaintenanceWindow) error {
	return r.db.WithContext(ctx).Create(w).Error
}

// ListMaintenanceWindows 查询某时刻之后仍有效的窗口
func (r *Repository) ListMaintenanceWindows(ctx context.Context, notBefore time.Time) ([]models.MaintenanceWindow, error) {
	var out []models.MaintenanceWindow
	err := r.db.WithContext(ctx).
		Where("ends_at > ?", notBefore).
		Order("starts_at").
		Find(&out).Error
	return out, err
}

// ListWrites 设备指令审计（按下发时间倒序）
func (r *Repository) ListWrites(ctx context.Context, deviceID string, limit int) ([]models.Write, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.Write
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("issued_at DESC").Limit(limit).
		Find(&out).Error
	return out, err
}

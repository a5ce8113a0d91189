package repo

import (
	"context"

	"github.com/KNICEX/market-hunter/internal/entity"
	"gorm.io/gorm"
)

// AlertRepo 只追加的通知审计, 没有更新入口
type AlertRepo interface {
	Create(ctx context.Context, alert entity.Alert) (int64, error)
	FindByUser(ctx context.Context, userId int64, limit int) ([]entity.Alert, error)
}

type alertRepo struct {
	db *gorm.DB
}

func NewAlertRepo(db *gorm.DB) AlertRepo {
	return &alertRepo{
		db: db,
	}
}

func (r *alertRepo) Create(ctx context.Context, alert entity.Alert) (int64, error) {
	err := r.db.WithContext(ctx).Create(&alert).Error
	if err != nil {
		return 0, err
	}
	return alert.Id, nil
}

func (r *alertRepo) FindByUser(ctx context.Context, userId int64, limit int) ([]entity.Alert, error) {
	var alerts []entity.Alert
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("created_at DESC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

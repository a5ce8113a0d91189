package repo

import (
	"context"
	"errors"

	"github.com/KNICEX/market-hunter/internal/entity"
	"gorm.io/gorm"
)

// ErrStaleState 乐观锁冲突, 有并发写者先一步推进了状态机
var ErrStaleState = errors.New("alert state version conflict")

type AlertStateRepo interface {
	FindAll(ctx context.Context) ([]entity.AlertState, error)
	Save(ctx context.Context, state entity.AlertState) error
}

type alertStateRepo struct {
	db *gorm.DB
}

func NewAlertStateRepo(db *gorm.DB) AlertStateRepo {
	return &alertStateRepo{
		db: db,
	}
}

func (r *alertStateRepo) FindAll(ctx context.Context) ([]entity.AlertState, error) {
	var states []entity.AlertState
	err := r.db.WithContext(ctx).Find(&states).Error
	if err != nil {
		return nil, err
	}
	return states, nil
}

// Save 新纪录直接插入, 已有记录按 version 条件更新
// 版本没对上说明另一个周期已经写过, 调用方放弃本次触发
func (r *alertStateRepo) Save(ctx context.Context, state entity.AlertState) error {
	if state.Id == 0 {
		state.Version = 1
		err := r.db.WithContext(ctx).Create(&state).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrStaleState
		}
		return err
	}

	res := r.db.WithContext(ctx).Model(&entity.AlertState{}).
		Where("id = ? AND version = ?", state.Id, state.Version).
		Updates(map[string]any{
			"state":          state.State,
			"direction":      state.Direction,
			"last_score":     state.LastScore,
			"has_last_score": state.HasLastScore,
			"triggered_at":   state.TriggeredAt,
			"version":        state.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

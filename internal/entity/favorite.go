package entity

import (
	"time"

	"gorm.io/datatypes"
)

// Favorite 用户自选资产, 每个用户同一资产只能收藏一次
type Favorite struct {
	Id        int64  `gorm:"primaryKey;autoIncrement"`
	UserId    int64  `gorm:"uniqueIndex:user_asset_idx;index"`
	AssetKey  string `gorm:"uniqueIndex:user_asset_idx"`
	Symbol    string `gorm:"index"`
	Platform  string
	AssetData datatypes.JSON // 最近一次合并快照
	CreatedAt time.Time
	UpdatedAt time.Time
}

package entity

import (
	"time"
)

// AlertState (用户, 资产) 维度的报警状态机, 跨进程重启持久化
// Version 乐观锁, 并发周期不会重复触发同一次穿越
type AlertState struct {
	Id          int64  `gorm:"primaryKey;autoIncrement"`
	UserId      int64  `gorm:"uniqueIndex:user_asset_state_idx"`
	AssetKey    string `gorm:"uniqueIndex:user_asset_state_idx"`
	State     string `gorm:"index"`
	Direction string // 上一次触发的方向 buy/sell
	// LastScore 上个周期的真实分数, 0 也是有效分
	// HasLastScore 区分 "上个周期打了0分" 和 "还没有上个周期"
	LastScore    int
	HasLastScore bool
	TriggeredAt  time.Time
	Version     int64
	UpdatedAt   time.Time
}

const (
	AlertStateIdle     = "idle"
	AlertStateCooldown = "cooldown"
)

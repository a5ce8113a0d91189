package entity

import (
	"time"
)

// Alert 通知审计记录, 只追加不更新
type Alert struct {
	Id        int64  `gorm:"primaryKey;autoIncrement"`
	UserId    int64  `gorm:"index"`
	Symbol    string `gorm:"index"`
	Action    string `gorm:"index"` // buy/sell/info
	Message   string
	Delivered bool
	CreatedAt time.Time `gorm:"index"`
}

const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionInfo = "info"
)

package repo

import (
	"github.com/KNICEX/market-hunter/internal/entity"
	"gorm.io/gorm"
)

func InitTables(db *gorm.DB) error {
	return db.AutoMigrate(&entity.Favorite{}, &entity.Alert{}, &entity.AlertState{})
}

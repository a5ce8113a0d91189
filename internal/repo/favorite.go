package repo

import (
	"context"
	"errors"

	"github.com/KNICEX/market-hunter/internal/entity"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrAlreadyFavorited 同一用户重复收藏同一资产
	ErrAlreadyFavorited = errors.New("asset already favorited")
	// ErrFavoriteNotFound 收藏不存在或不属于该用户
	ErrFavoriteNotFound = errors.New("favorite not found")
)

// FavoriteRepo 行级隔离: 除 FindAll 之外所有读写都以 userId 约束
// FindAll 是周期级扫描专用的提权只读入口, 不要在面向用户的路径上调用
type FavoriteRepo interface {
	Create(ctx context.Context, favorite entity.Favorite) (int64, error)
	FindByUser(ctx context.Context, userId int64) ([]entity.Favorite, error)
	FindAll(ctx context.Context) ([]entity.Favorite, error)
	UpdateAssetData(ctx context.Context, userId int64, assetKey string, data datatypes.JSON) error
	Delete(ctx context.Context, userId int64, assetKey string) error
}

type favoriteRepo struct {
	db *gorm.DB
}

func NewFavoriteRepo(db *gorm.DB) FavoriteRepo {
	return &favoriteRepo{
		db: db,
	}
}

func (r *favoriteRepo) Create(ctx context.Context, favorite entity.Favorite) (int64, error) {
	err := r.db.WithContext(ctx).Create(&favorite).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, ErrAlreadyFavorited
		}
		return 0, err
	}
	return favorite.Id, nil
}

func (r *favoriteRepo) FindByUser(ctx context.Context, userId int64) ([]entity.Favorite, error) {
	var favorites []entity.Favorite
	err := r.db.WithContext(ctx).Where("user_id = ?", userId).Find(&favorites).Error
	if err != nil {
		return nil, err
	}
	return favorites, nil
}

func (r *favoriteRepo) FindAll(ctx context.Context) ([]entity.Favorite, error) {
	var favorites []entity.Favorite
	err := r.db.WithContext(ctx).Find(&favorites).Error
	if err != nil {
		return nil, err
	}
	return favorites, nil
}

func (r *favoriteRepo) UpdateAssetData(ctx context.Context, userId int64, assetKey string, data datatypes.JSON) error {
	res := r.db.WithContext(ctx).Model(&entity.Favorite{}).
		Where("user_id = ? AND asset_key = ?", userId, assetKey).
		Update("asset_data", data)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFavoriteNotFound
	}
	return nil
}

func (r *favoriteRepo) Delete(ctx context.Context, userId int64, assetKey string) error {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND asset_key = ?", userId, assetKey).
		Delete(&entity.Favorite{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFavoriteNotFound
	}
	return nil
}

package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KNICEX/market-hunter/internal/entity"
	"github.com/KNICEX/market-hunter/internal/repo"
	"github.com/KNICEX/market-hunter/internal/service/asset"
	"github.com/samber/lo"
)

// AlertEvent 一次阈值穿越产生的待投递报警
type AlertEvent struct {
	UserId    int64
	Key       asset.Key
	Symbol    string
	Action    string
	Score     int
	Rationale string
	Message   string
	At        time.Time
}

type Config struct {
	// BuyThreshold 分数上穿该值触发买入提醒
	BuyThreshold int `mapstructure:"buy_threshold"`
	// SellThreshold 分数下穿该值触发卖出提醒
	SellThreshold int           `mapstructure:"sell_threshold"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
}

type Matcher struct {
	favoriteRepo repo.FavoriteRepo
	stateRepo    repo.AlertStateRepo
	cfg          Config
	now          func() time.Time
}

func NewMatcher(favoriteRepo repo.FavoriteRepo, stateRepo repo.AlertStateRepo, cfg Config) *Matcher {
	if cfg.BuyThreshold == 0 {
		cfg.BuyThreshold = 80
	}
	if cfg.SellThreshold == 0 {
		cfg.SellThreshold = 20
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Minute
	}
	return &Matcher{
		favoriteRepo: favoriteRepo,
		stateRepo:    stateRepo,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Match 用全量自选(提权只读)对照本周期打分结果, 产出报警事件
// 状态机先落库再发事件, 投递失败也不会在重试时重复触发
// 单个用户的失败只影响自己, 不中断其他用户
func (m *Matcher) Match(ctx context.Context, scored []asset.Scored) ([]AlertEvent, error) {
	favorites, err := m.favoriteRepo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load favorites: %w", err)
	}
	states, err := m.stateRepo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load alert states: %w", err)
	}

	scoredByKey := lo.SliceToMap(scored, func(s asset.Scored) (string, asset.Scored) {
		return s.Key.String(), s
	})
	stateByKey := lo.SliceToMap(states, func(st entity.AlertState) (string, entity.AlertState) {
		return stateKey(st.UserId, st.AssetKey), st
	})

	var events []AlertEvent
	for _, fav := range favorites {
		if ctx.Err() != nil {
			// 周期预算耗尽, 剩余匹配留到下个周期
			slog.Warn("match aborted by cycle budget", "remaining", len(favorites))
			break
		}
		sc, ok := scoredByKey[fav.AssetKey]
		if !ok {
			continue
		}
		if sc.NoScore {
			slog.Info("skip favorite without score", "user", fav.UserId, "asset", fav.AssetKey)
			continue
		}

		m.refreshAssetData(ctx, fav, sc)

		st, ok := stateByKey[stateKey(fav.UserId, fav.AssetKey)]
		if !ok {
			st = entity.AlertState{
				UserId:   fav.UserId,
				AssetKey: fav.AssetKey,
				State:    entity.AlertStateIdle,
			}
		}
		if event, fired := m.advance(ctx, &st, fav, sc); fired {
			events = append(events, event)
		}
	}
	return events, nil
}

// advance 推进 (用户, 资产) 状态机: Idle → Triggered → Cooldown → Idle
// 边沿触发: 只有上个周期未越过的阈值本周期被越过才触发
func (m *Matcher) advance(ctx context.Context, st *entity.AlertState, fav entity.Favorite, sc asset.Scored) (AlertEvent, bool) {
	now := m.now()

	// 冷却窗口独立于扫描节奏流逝
	if st.State == entity.AlertStateCooldown && now.Sub(st.TriggeredAt) >= m.cfg.Cooldown {
		st.State = entity.AlertStateIdle
	}

	action := m.actionFor(sc.Score)
	// 没有上个周期时视为未越过任何阈值
	var prevAction string
	if st.HasLastScore {
		prevAction = m.actionFor(st.LastScore)
	}

	fired := st.State == entity.AlertStateIdle && action != "" && action != prevAction
	if fired {
		st.State = entity.AlertStateCooldown
		st.Direction = action
		st.TriggeredAt = now
	}
	st.LastScore = sc.Score
	st.HasLastScore = true

	if err := m.stateRepo.Save(ctx, *st); err != nil {
		if errors.Is(err, repo.ErrStaleState) {
			// 并发写者已经处理过这次穿越
			slog.Warn("alert state lost race", "user", fav.UserId, "asset", fav.AssetKey)
		} else {
			slog.Error("failed to save alert state", "user", fav.UserId, "asset", fav.AssetKey, "error", err)
		}
		return AlertEvent{}, false
	}
	if !fired {
		return AlertEvent{}, false
	}

	return AlertEvent{
		UserId:    fav.UserId,
		Key:       sc.Key,
		Symbol:    fav.Symbol,
		Action:    action,
		Score:     sc.Score,
		Rationale: sc.Rationale,
		Message: fmt.Sprintf("%s alert: %s at %s, score %d. %s",
			action, fav.Symbol, sc.Price, sc.Score, sc.Rationale),
		At: now,
	}, true
}

func (m *Matcher) actionFor(score int) string {
	switch {
	case score >= m.cfg.BuyThreshold:
		return entity.ActionBuy
	case score <= m.cfg.SellThreshold:
		return entity.ActionSell
	default:
		return ""
	}
}

// refreshAssetData 把最近一次合并快照回写到收藏上
func (m *Matcher) refreshAssetData(ctx context.Context, fav entity.Favorite, sc asset.Scored) {
	data, err := json.Marshal(sc.Merged)
	if err != nil {
		return
	}
	if err = m.favoriteRepo.UpdateAssetData(ctx, fav.UserId, fav.AssetKey, data); err != nil {
		slog.Error("failed to refresh favorite snapshot", "user", fav.UserId, "asset", fav.AssetKey, "error", err)
	}
}

func stateKey(userId int64, assetKey string) string {
	return fmt.Sprintf("%d/%s", userId, assetKey)
}

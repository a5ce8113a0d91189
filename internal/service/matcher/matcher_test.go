package matcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/KNICEX/market-hunter/internal/entity"
	"github.com/KNICEX/market-hunter/internal/repo"
	"github.com/KNICEX/market-hunter/internal/service/asset"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type memFavoriteRepo struct {
	favorites []entity.Favorite
}

func (r *memFavoriteRepo) Create(ctx context.Context, f entity.Favorite) (int64, error) {
	for _, cur := range r.favorites {
		if cur.UserId == f.UserId && cur.AssetKey == f.AssetKey {
			return 0, repo.ErrAlreadyFavorited
		}
	}
	f.Id = int64(len(r.favorites) + 1)
	r.favorites = append(r.favorites, f)
	return f.Id, nil
}

func (r *memFavoriteRepo) FindByUser(ctx context.Context, userId int64) ([]entity.Favorite, error) {
	var out []entity.Favorite
	for _, f := range r.favorites {
		if f.UserId == userId {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *memFavoriteRepo) FindAll(ctx context.Context) ([]entity.Favorite, error) {
	return r.favorites, nil
}

func (r *memFavoriteRepo) UpdateAssetData(ctx context.Context, userId int64, assetKey string, data datatypes.JSON) error {
	for i, f := range r.favorites {
		if f.UserId == userId && f.AssetKey == assetKey {
			r.favorites[i].AssetData = data
			return nil
		}
	}
	return repo.ErrFavoriteNotFound
}

func (r *memFavoriteRepo) Delete(ctx context.Context, userId int64, assetKey string) error {
	for i, f := range r.favorites {
		if f.UserId == userId && f.AssetKey == assetKey {
			r.favorites = append(r.favorites[:i], r.favorites[i+1:]...)
			return nil
		}
	}
	return repo.ErrFavoriteNotFound
}

type memStateRepo struct {
	states   map[string]entity.AlertState
	nextId   int64
	failNext bool
}

func newMemStateRepo() *memStateRepo {
	return &memStateRepo{states: make(map[string]entity.AlertState)}
}

func (r *memStateRepo) key(userId int64, assetKey string) string {
	return fmt.Sprintf("%d/%s", userId, assetKey)
}

func (r *memStateRepo) FindAll(ctx context.Context) ([]entity.AlertState, error) {
	var out []entity.AlertState
	for _, st := range r.states {
		out = append(out, st)
	}
	return out, nil
}

func (r *memStateRepo) Save(ctx context.Context, st entity.AlertState) error {
	if r.failNext {
		r.failNext = false
		return repo.ErrStaleState
	}
	k := r.key(st.UserId, st.AssetKey)
	cur, ok := r.states[k]
	if st.Id == 0 {
		if ok {
			return repo.ErrStaleState
		}
		r.nextId++
		st.Id = r.nextId
		st.Version = 1
		r.states[k] = st
		return nil
	}
	if !ok || cur.Version != st.Version {
		return repo.ErrStaleState
	}
	st.Version++
	r.states[k] = st
	return nil
}

func scoredAsset(key asset.Key, score int) asset.Scored {
	return asset.Scored{
		Merged: asset.Merged{
			Key:    key,
			Symbol: key.Symbol,
			Price:  decimal.NewFromInt(100),
		},
		Score:     score,
		Rationale: "test rationale",
		ScoredAt:  time.Now(),
	}
}

func setup(t *testing.T, cfg Config) (*Matcher, *memFavoriteRepo, *memStateRepo, asset.Key) {
	t.Helper()
	key := asset.Key{Platform: "binance", Symbol: "SOLUSDT"}
	favRepo := &memFavoriteRepo{}
	_, err := favRepo.Create(context.Background(), entity.Favorite{
		UserId:   1,
		AssetKey: key.String(),
		Symbol:   "SOL",
		Platform: "binance",
	})
	require.NoError(t, err)
	stateRepo := newMemStateRepo()
	return NewMatcher(favRepo, stateRepo, cfg), favRepo, stateRepo, key
}

func TestMatcher_EdgeTriggeredCrossing(t *testing.T) {
	// 场景: 收藏时 40 分, 涨到 85 穿越买入阈值 80 触发一次
	// 下个周期 90 分仍在阈值上方不再触发
	// 跌到 60 再涨回 85, 重新触发
	m, _, _, key := setup(t, Config{Cooldown: 10 * time.Minute})
	ctx := context.Background()
	now := time.Now()
	m.now = func() time.Time { return now }

	events, err := m.Match(ctx, []asset.Scored{scoredAsset(key, 40)})
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = m.Match(ctx, []asset.Scored{scoredAsset(key, 85)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entity.ActionBuy, events[0].Action)
	assert.Equal(t, int64(1), events[0].UserId)

	// 仍在阈值上方, 电平不触发
	events, err = m.Match(ctx, []asset.Scored{scoredAsset(key, 90)})
	require.NoError(t, err)
	assert.Empty(t, events)

	// 冷却结束后跌落再穿越
	now = now.Add(11 * time.Minute)
	events, err = m.Match(ctx, []asset.Scored{scoredAsset(key, 60)})
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = m.Match(ctx, []asset.Scored{scoredAsset(key, 85)})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestMatcher_NoAlertStormWithinCooldown(t *testing.T) {
	m, _, _, key := setup(t, Config{Cooldown: 30 * time.Minute})
	ctx := context.Background()
	now := time.Now()
	m.now = func() time.Time { return now }

	events, _ := m.Match(ctx, []asset.Scored{scoredAsset(key, 85)})
	require.Len(t, events, 1)

	// 冷却窗口内反复穿越也不再触发
	for _, score := range []int{60, 85, 15, 90} {
		now = now.Add(time.Minute)
		events, err := m.Match(ctx, []asset.Scored{scoredAsset(key, score)})
		require.NoError(t, err)
		assert.Empty(t, events, "score %d fired inside cooldown", score)
	}
}

func TestMatcher_SellCrossing(t *testing.T) {
	m, _, _, key := setup(t, Config{})
	ctx := context.Background()

	events, _ := m.Match(ctx, []asset.Scored{scoredAsset(key, 50)})
	assert.Empty(t, events)

	events, _ = m.Match(ctx, []asset.Scored{scoredAsset(key, 15)})
	require.Len(t, events, 1)
	assert.Equal(t, entity.ActionSell, events[0].Action)
}

func TestMatcher_ZeroScoreFiresSell(t *testing.T) {
	// 0 是真实分数, 和 NoScore 是两回事: 50 -> 0 必须触发卖出
	m, _, _, key := setup(t, Config{})
	ctx := context.Background()

	events, err := m.Match(ctx, []asset.Scored{scoredAsset(key, 50)})
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = m.Match(ctx, []asset.Scored{scoredAsset(key, 0)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entity.ActionSell, events[0].Action)
	assert.Equal(t, 0, events[0].Score)
}

func TestMatcher_FirstCycleZeroFiresOnce(t *testing.T) {
	// 第一个周期就是 0 分: 没有上个周期, 按穿越处理, 只触发一次
	m, _, _, key := setup(t, Config{Cooldown: time.Hour})
	ctx := context.Background()

	events, err := m.Match(ctx, []asset.Scored{scoredAsset(key, 0)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entity.ActionSell, events[0].Action)

	events, err = m.Match(ctx, []asset.Scored{scoredAsset(key, 0)})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMatcher_StateSurvivesRestart(t *testing.T) {
	// 重启后从持久化状态恢复, 不会重放同一次穿越
	favRepo := &memFavoriteRepo{}
	key := asset.Key{Platform: "binance", Symbol: "SOLUSDT"}
	_, err := favRepo.Create(context.Background(), entity.Favorite{UserId: 1, AssetKey: key.String(), Symbol: "SOL"})
	require.NoError(t, err)
	stateRepo := newMemStateRepo()

	m1 := NewMatcher(favRepo, stateRepo, Config{Cooldown: time.Hour})
	events, _ := m1.Match(context.Background(), []asset.Scored{scoredAsset(key, 85)})
	require.Len(t, events, 1)

	// 新实例, 同一存储
	m2 := NewMatcher(favRepo, stateRepo, Config{Cooldown: time.Hour})
	events, _ = m2.Match(context.Background(), []asset.Scored{scoredAsset(key, 85)})
	assert.Empty(t, events)
}

func TestMatcher_NoScoreSkipped(t *testing.T) {
	m, _, stateRepo, key := setup(t, Config{})
	sc := scoredAsset(key, 0)
	sc.NoScore = true

	events, err := m.Match(context.Background(), []asset.Scored{sc})
	require.NoError(t, err)
	assert.Empty(t, events)
	// 无分资产连状态机都不推进
	states, _ := stateRepo.FindAll(context.Background())
	assert.Empty(t, states)
}

func TestMatcher_RefreshesFavoriteSnapshot(t *testing.T) {
	m, favRepo, _, key := setup(t, Config{})

	_, err := m.Match(context.Background(), []asset.Scored{scoredAsset(key, 50)})
	require.NoError(t, err)
	require.NotEmpty(t, favRepo.favorites[0].AssetData)
	assert.Contains(t, string(favRepo.favorites[0].AssetData), "SOL")
}

func TestMatcher_LostRaceEmitsNothing(t *testing.T) {
	// 另一个写者先推进了状态机, 本周期放弃触发
	m, _, stateRepo, key := setup(t, Config{})
	ctx := context.Background()

	_, err := m.Match(ctx, []asset.Scored{scoredAsset(key, 50)})
	require.NoError(t, err)

	stateRepo.failNext = true
	events, err := m.Match(ctx, []asset.Scored{scoredAsset(key, 85)})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMatcher_UnmatchedFavoriteIgnored(t *testing.T) {
	m, _, _, _ := setup(t, Config{})
	other := asset.Key{Platform: "stocks", Symbol: "AAPL"}

	events, err := m.Match(context.Background(), []asset.Scored{scoredAsset(other, 95)})
	require.NoError(t, err)
	assert.Empty(t, events)
}

package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KNICEX/market-hunter/internal/service/asset"
	"github.com/KNICEX/market-hunter/internal/service/llm"
	"github.com/KNICEX/market-hunter/internal/service/scorer"
)

// Oracle 基于 LLM 的机会打分
// 一次 prompt 打一批, 单条解析失败只丢该条, 整批仍算成功
type Oracle struct {
	llmSvc llm.Service
}

func NewOracle(llmSvc llm.Service) scorer.Oracle {
	return &Oracle{llmSvc: llmSvc}
}

func (o *Oracle) Score(ctx context.Context, batch []asset.Merged) ([]scorer.Result, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	answer, err := o.llmSvc.AskOnce(ctx, llm.Question{Content: o.buildPrompt(batch)})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("ask oracle: %w", scorer.ErrOracleTimeout)
		}
		return nil, fmt.Errorf("ask oracle: %v: %w", err, scorer.ErrOracleUnavailable)
	}

	return o.extractResults(answer, batch)
}

func (o *Oracle) buildPrompt(batch []asset.Merged) string {
	var sb strings.Builder
	sb.WriteString("你是一个严谨的交易机会分析师, 为下面每个资产给出 0-100 的机会评分:\n" +
		"分数越高代表买入机会越强, 越低代表应该卖出/回避, 50 左右为中性\n" +
		"评分要考虑: 量价异动的可信度, 流动性, 24h走势, 以及检测到的形态说明\n\n")
	for _, m := range batch {
		sb.WriteString(fmt.Sprintf("- key: %s, symbol: %s, platform: %s, price: %s, volume: %s",
			m.Key, m.Symbol, m.Platform, m.Price, m.Volume))
		if m.HasLiquidity {
			sb.WriteString(fmt.Sprintf(", liquidity: %s", m.Liquidity))
		}
		sb.WriteString(fmt.Sprintf(", change_24h: %s%%, note: %s\n", m.PriceChange24h, m.Note))
	}
	sb.WriteString("\n请按如下JSON数组格式回复, 每个资产一条, rationale 一句话说明理由:\n" +
		`[{"key": "资产key原样返回", "score": 0-100, "rationale": "理由"}]`)
	return sb.String()
}

func (o *Oracle) extractResults(answer llm.Answer, batch []asset.Merged) ([]scorer.Result, error) {
	content := stripFence(answer.Content)

	var raw []struct {
		Key       string `json:"key"`
		Score     int    `json:"score"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("decode oracle answer: %v: %w", err, scorer.ErrOracleUnavailable)
	}

	keys := make(map[string]asset.Key, len(batch))
	for _, m := range batch {
		keys[m.Key.String()] = m.Key
	}

	results := make([]scorer.Result, 0, len(raw))
	for _, r := range raw {
		key, ok := keys[r.Key]
		if !ok {
			slog.Warn("oracle returned unknown key", "key", r.Key)
			continue
		}
		if r.Score < 0 || r.Score > 100 {
			slog.Warn("oracle returned out-of-range score", "key", r.Key, "score", r.Score)
			continue
		}
		results = append(results, scorer.Result{Key: key, Score: r.Score, Rationale: r.Rationale})
	}
	return results, nil
}

// stripFence 去掉模型习惯性包裹的 markdown 代码块
func stripFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 3 {
		return content
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

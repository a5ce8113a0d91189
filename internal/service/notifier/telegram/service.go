package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/KNICEX/market-hunter/internal/service/notifier"
)

const defaultBaseURL = "https://api.telegram.org"

type Config struct {
	BotToken string        `mapstructure:"bot_token"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Service struct {
	cfg Config
	cli *http.Client
}

func NewService(cfg Config) notifier.Transport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Service{
		cfg: cfg,
		cli: &http.Client{Timeout: cfg.Timeout},
	}
}

// Send target 是 telegram chat id
func (s *Service) Send(ctx context.Context, target string, message string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":                  target,
		"text":                     message,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.cfg.BaseURL, s.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cli.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %v: %w", err, notifier.ErrTransport)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send message: status %d: %s: %w", resp.StatusCode, body, notifier.ErrTransport)
	}
	return nil
}

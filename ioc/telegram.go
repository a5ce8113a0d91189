package ioc

import (
	"github.com/KNICEX/market-hunter/internal/service/notifier"
	"github.com/KNICEX/market-hunter/internal/service/notifier/telegram"
	"github.com/spf13/viper"
)

func InitTelegram() notifier.Transport {
	var cfg telegram.Config
	if err := viper.UnmarshalKey("notify.telegram", &cfg); err != nil {
		panic(err)
	}
	if cfg.BotToken == "" {
		panic("no telegram bot token set")
	}
	return telegram.NewService(cfg)
}

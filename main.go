package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KNICEX/market-hunter/internal/repo"
	"github.com/KNICEX/market-hunter/internal/service/aggregator"
	"github.com/KNICEX/market-hunter/internal/service/llm/gemini"
	"github.com/KNICEX/market-hunter/internal/service/matcher"
	"github.com/KNICEX/market-hunter/internal/service/monitor"
	"github.com/KNICEX/market-hunter/internal/service/notifier"
	"github.com/KNICEX/market-hunter/internal/service/scorer"
	scorergemini "github.com/KNICEX/market-hunter/internal/service/scorer/gemini"
	"github.com/KNICEX/market-hunter/internal/service/source"
	binancesource "github.com/KNICEX/market-hunter/internal/service/source/binance"
	"github.com/KNICEX/market-hunter/internal/service/source/dexscreener"
	"github.com/KNICEX/market-hunter/internal/service/source/stocks"
	"github.com/KNICEX/market-hunter/ioc"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func initViper() {

	// --config=./config/xxx.yaml
	file := pflag.String("config", "./config/config.dev.yaml", "specify config file")
	pflag.Parse()

	viper.SetConfigFile(*file)
	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %s \n", err))
	}
}

func main() {
	initViper()

	db := ioc.InitDB()
	if err := repo.InitTables(db); err != nil {
		panic(err)
	}

	bian := ioc.InitBinanceCli()
	geminiCli := ioc.InitGeminiCli()
	llmSvc := gemini.NewService(geminiCli)

	var dexCfg dexscreener.Config
	if err := viper.UnmarshalKey("source.dexscreener", &dexCfg); err != nil {
		panic(err)
	}
	var cexCfg binancesource.Config
	if err := viper.UnmarshalKey("source.binance", &cexCfg); err != nil {
		panic(err)
	}
	var stockCfg stocks.Config
	if err := viper.UnmarshalKey("source.stocks", &stockCfg); err != nil {
		panic(err)
	}

	adapters := []source.Adapter{
		dexscreener.NewAdapter(dexCfg),
		binancesource.NewAdapter(bian, cexCfg),
		stocks.NewAdapter(stockCfg),
	}
	agg := aggregator.NewAggregator(adapters)

	var scorerCfg scorer.Config
	if err := viper.UnmarshalKey("scorer", &scorerCfg); err != nil {
		panic(err)
	}
	sc := scorer.NewScorer(scorergemini.NewOracle(llmSvc), scorerCfg)

	var matcherCfg matcher.Config
	if err := viper.UnmarshalKey("matcher", &matcherCfg); err != nil {
		panic(err)
	}
	favoriteRepo := repo.NewFavoriteRepo(db)
	stateRepo := repo.NewAlertStateRepo(db)
	m := matcher.NewMatcher(favoriteRepo, stateRepo, matcherCfg)

	var dispatchCfg notifier.Config
	if err := viper.UnmarshalKey("notify.dispatch", &dispatchCfg); err != nil {
		panic(err)
	}
	dispatcher := notifier.NewDispatcher(ioc.InitTelegram(), repo.NewAlertRepo(db), dispatchCfg)

	task := monitor.NewHuntTask(monitor.NewHuntMonitor(agg, sc, m, dispatcher))

	interval := viper.GetDuration("scan.interval")
	if interval == 0 {
		interval = 2 * time.Minute
	}
	budget := viper.GetDuration("scan.budget")
	if budget == 0 {
		budget = interval
	}

	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), budget)
		defer cancel()
		if err := task.Run(ctx); err != nil {
			slog.Error("scan task failed", "task", task.Name(), "error", err)
		}
	})
	if err != nil {
		panic(err)
	}

	slog.Info("market hunter started", "interval", interval, "budget", budget)
	c.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	<-c.Stop().Done()
	slog.Info("market hunter stopped")
}

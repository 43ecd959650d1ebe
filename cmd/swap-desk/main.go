package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/you/swap-desk/internal/config"
	"github.com/you/swap-desk/internal/desk"
	"go.uber.org/zap"
)

func parseFlags() (cfgPath, logLevel string) {
	flag.StringVar(&cfgPath, "config", "./config.yaml", "путь к конфигу")
	flag.StringVar(&logLevel, "log-level", "", "уровень логов (перекрывает log_level из конфига)")
	flag.Parse()
	return cfgPath, logLevel
}

func main() {
	cfgPath, logLevel := parseFlags()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ошибка загрузки конфига:", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := desk.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	d, err := desk.New(cfg, logger)
	if err != nil {
		logger.Fatal("инициализация desk", zap.Error(err))
	}
	if err := d.Run(context.Background()); err != nil {
		logger.Fatal("api server error", zap.Error(err))
	}
}

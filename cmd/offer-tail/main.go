package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/you/swap-desk/internal/config"
	"github.com/you/swap-desk/internal/desk"
	"github.com/you/swap-desk/internal/journal"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "путь к конфигу")
	group := flag.String("group", "offer-tail", "consumer group")
	consumer := flag.String("consumer", hostname(), "имя консьюмера в группе")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		fmt.Println("[sys] сигнал завершения — выходим…")
		cancel()
	}()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	rdb := desk.NewRedisClient(cfg)
	defer rdb.Close()

	c := journal.NewConsumer(rdb, cfg, zap.NewNop())
	rows := make(chan journal.Row, 64)
	errs := make(chan error, 1)
	go func() { errs <- c.Tail(ctx, *group, *consumer, rows) }()

	fmt.Printf("[journal] %s, group=%s consumer=%s\n", cfg.Key(cfg.Journal.Stream), *group, *consumer)
	for {
		select {
		case r := <-rows:
			fmt.Printf("%s  %-10s %s %s -> %s %s  fee=%s  %s\n",
				r.Date.Format("2006-01-02 15:04:05"), r.UserID,
				r.Amount, r.From, r.Receive, r.To, r.Fee, r.Contact)
		case err := <-errs:
			if err != nil && ctx.Err() == nil {
				fmt.Fprintln(os.Stderr, "tail:", err)
				os.Exit(1)
			}
			return
		}
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "tail-1"
	}
	return h
}

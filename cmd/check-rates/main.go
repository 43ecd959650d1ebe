package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/config"
	"github.com/you/swap-desk/internal/desk"
	"github.com/you/swap-desk/internal/types"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config")
	give := flag.String("give", "RUB", "asset to give")
	amountStr := flag.String("amount", "1000", "amount to give")
	receive := flag.String("receive", "USDT", "asset to receive")
	pairsStr := flag.String("pairs", "", "extra pairs to resolve, comma-separated FROM:TO")
	verbose := flag.Bool("v", false, "log feed lookups")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	// quotes only; nothing is published
	cfg.Storage = config.StorageMemory
	cfg.Journal.Enabled = false

	log := zap.NewNop()
	if *verbose {
		if log, err = desk.NewLogger("debug"); err != nil {
			panic(err)
		}
	}
	d, err := desk.New(cfg, log)
	if err != nil {
		panic(err)
	}
	ctx := context.Background()

	fmt.Printf("fiat feed:   %s\n", cfg.Feeds.FiatURL)
	fmt.Printf("crypto feed: %s\n", cfg.Feeds.CoinGeckoURL)
	fmt.Printf("fee policy:  %s (rate %s)\n\n", cfg.Fees.Policy, cfg.Fees.Rate)

	for _, p := range parsePairs(*pairsStr) {
		rt, err := d.Resolver.Resolve(ctx, p.Give, p.Receive)
		if err != nil {
			fmt.Printf("%-12s error: %v\n", p.Key(), err)
			continue
		}
		fmt.Printf("%-12s %s%s\n", p.Key(), rt.Value.String(), mark(rt.Degraded || rt.Unavailable()))
	}

	amount, err := decimal.NewFromString(*amountStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -amount %q: %v\n", *amountStr, err)
		os.Exit(2)
	}
	q, err := d.Quotes.BuildQuote(ctx, *give, amount, *receive)
	if err != nil {
		fmt.Fprintln(os.Stderr, "quote:", err)
		os.Exit(1)
	}
	fmt.Printf("\n%s %s -> %s\n", q.Give.Amount, q.Give.Asset.Code, q.Receive.Asset.Code)
	fmt.Printf("  rate:    %s%s\n", q.Rate, mark(q.Degraded))
	fmt.Printf("  fee:     %s %s\n", q.Fee.Amount, q.Fee.Asset.Code)
	fmt.Printf("  receive: %s %s\n", q.Receive.Amount, q.Receive.Asset.Code)
}

func mark(degraded bool) string {
	if degraded {
		return "  (degraded)"
	}
	return ""
}

func parsePairs(s string) []types.Pair {
	var out []types.Pair
	for _, p := range strings.Split(s, ",") {
		from, to, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok || from == "" || to == "" {
			continue
		}
		out = append(out, types.Pair{Give: strings.ToUpper(from), Receive: strings.ToUpper(to)})
	}
	return out
}

// Command walletchatctl performs operator chores against a walletchat backend:
// issuing development tokens, seeding the cost schedule and granting credits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	app "github.com/R3E-Network/walletchat/internal/app"
	"github.com/R3E-Network/walletchat/internal/config"
	"github.com/R3E-Network/walletchat/internal/identity"
	"github.com/R3E-Network/walletchat/internal/middleware"
	"github.com/R3E-Network/walletchat/pkg/logger"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: walletchatctl [-config path] <command> [flags]

commands:
  token       -address <addr> [-ttl 24h]   print a bearer token for address
  seed-costs                               store the configured cost schedule
  credit      -address <addr> -amount <n>  grant credits`)
	os.Exit(2)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", os.Getenv("WALLETCHAT_CONFIG"), "Path to YAML config file")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	log := logger.New("walletchatctl", logger.Config{Level: "warn", Format: "text"})
	ctx := context.Background()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		address := fs.String("address", "", "Wallet address")
		ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
		_ = fs.Parse(args)
		if !identity.IsAddress(*address) {
			fatalf("invalid address %q", *address)
		}
		if cfg.Auth.JWTSecret == "" {
			fatalf("WALLETCHAT_JWT_SECRET is required")
		}
		token, err := middleware.IssueToken([]byte(cfg.Auth.JWTSecret), *address, *ttl)
		if err != nil {
			fatalf("sign token: %v", err)
		}
		fmt.Println(token)

	case "seed-costs":
		backend, closeFn, err := app.OpenBackend(ctx, cfg.Backend, log)
		if err != nil {
			fatalf("open backend: %v", err)
		}
		defer closeFn()
		if err := backend.SaveCostSchedule(ctx, cfg.Ledger.Costs); err != nil {
			fatalf("save cost schedule: %v", err)
		}
		fmt.Printf("stored cost schedule %+v in %s backend\n", cfg.Ledger.Costs, cfg.Backend.Kind)

	case "credit":
		fs := flag.NewFlagSet("credit", flag.ExitOnError)
		address := fs.String("address", "", "Wallet address")
		amount := fs.Int64("amount", 0, "Credits to add")
		reference := fs.String("reference", "walletchatctl", "Ledger reference")
		_ = fs.Parse(args)

		application, err := app.New(ctx, cfg, log)
		if err != nil {
			fatalf("build application: %v", err)
		}
		defer application.Stop(ctx)
		if _, err := application.Accounts.Ensure(ctx, *address); err != nil {
			fatalf("ensure %s: %v", *address, err)
		}
		balance, err := application.Ledger.Credit(ctx, *address, *amount, *reference)
		if err != nil {
			fatalf("credit: %v", err)
		}
		fmt.Printf("%s now has %d credits\n", *address, balance)

	default:
		usage()
	}
}

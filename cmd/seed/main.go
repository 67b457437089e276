package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"lms-payments/internal/config"
	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/infra/api"
	pg "lms-payments/internal/infra/db/postgres"
	"lms-payments/internal/infra/logging"
	"lms-payments/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	discountUC := usecase.NewDiscountUseCase(pg.NewDiscountRepo(pool), pg.NewTxManager(pool), nil, cfg.Discount, logger)

	now := time.Now().UTC()
	seed := []usecase.CreateDiscountInput{
		{Code: "SAVE20", Type: model.DiscountTypePercentage, Value: decimal.NewFromInt(20)},
		{Code: "WELCOME10", Type: model.DiscountTypeFixedAmount, Value: decimal.NewFromInt(10), MaxUsesPerUser: 1},
		{Code: "FREEPASS", Type: model.DiscountTypePercentage, Value: decimal.NewFromInt(100), MaxUses: intPtr(50)},
	}
	for _, in := range seed {
		in.StartDate = now.Add(-time.Hour)
		in.EndDate = now.AddDate(1, 0, 0)
		d, err := discountUC.Create(ctx, in)
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
			fmt.Printf("  = %s already present\n", in.Code)
		case err != nil:
			logger.Fatal().Err(err).Str("code", in.Code).Msg("seed discount")
		default:
			fmt.Printf("  + %s (%s %s)\n", d.Code, d.Type, d.Value)
		}
	}

	if cfg.Admin.JWTSecret == "" {
		fmt.Println("admin.jwt_secret is empty; no admin token minted")
		return
	}
	tok, err := api.NewAdminAuth(cfg.Admin.JWTSecret, cfg.Admin.Issuer, cfg.Admin.TokenTTL).Mint("seed")
	if err != nil {
		logger.Fatal().Err(err).Msg("mint admin token")
	}
	fmt.Printf("admin token (valid %s):\n%s\n", cfg.Admin.TokenTTL, tok)
}

func intPtr(v int) *int { return &v }

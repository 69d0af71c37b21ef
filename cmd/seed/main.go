package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"khip-entitlements/internal/config"
	"khip-entitlements/internal/domain"
	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/domain/ports/repository"
	pg "khip-entitlements/internal/infra/db/postgres"
)

// Seeds a handful of demo purchases so the admin queue has something to show.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	user := flag.String("user", "demo-user", "user id that owns the seeded purchases")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	repo := pg.NewPurchaseRepo(pool)

	// If the user already has purchases, do nothing
	existing, err := repo.ListByUser(ctx, repository.NoTX, *user)
	if err != nil {
		log.Fatalf("list purchases: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d purchases already present for %s. No changes.\n", len(existing), *user)
		for _, p := range existing {
			fmt.Printf("  - %s %s %s (%s)\n", p.InvoiceNumber(), p.Type, p.CompanyName, p.Status)
		}
		return
	}

	seed := []model.PurchaseInput{
		{UserID: *user, Type: model.PurchaseTypeSingleReport, CompanyID: "samsung-electronics", CompanyName: "Samsung Electronics", Amount: 4900, Currency: "USD"},
		{UserID: *user, Type: model.PurchaseTypeSingleReport, CompanyID: "sk-hynix", CompanyName: "SK Hynix", Amount: 4900, Currency: "USD"},
		{UserID: *user, Type: model.PurchaseTypeCustomReport, CompanyID: "hyundai-motor", CompanyName: "Hyundai Motor", Amount: 19900, Currency: "USD"},
		{UserID: *user, Type: model.PurchaseTypeSnapshotPlan, Amount: 2900, Currency: "USD"},
		{UserID: *user, Type: model.PurchaseTypeTrial},
	}
	for _, in := range seed {
		p, err := repo.Create(ctx, repository.NoTX, in)
		if errors.Is(err, domain.ErrTrialAlreadyUsed) {
			fmt.Printf("skipped trial: %s already used one\n", *user)
			continue
		}
		if err != nil {
			log.Fatalf("create %s: %v", in.Type, err)
		}
		fmt.Printf("seeded: %s %s (id=%s, status=%s)\n", p.InvoiceNumber(), p.Type, p.ID, p.Status)
	}

	fmt.Println("Seeding complete.")
}

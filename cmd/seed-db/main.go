// Command seed-db loads influencers, catalog products and sample discount
// codes from a JSON file. Influencers and products are upserted; codes that
// already exist are left untouched.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"
	_ "time/tzdata"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/influencer-settlement/internal/domain/catalog"
	"github.com/xenking/influencer-settlement/internal/domain/discount"
	"github.com/xenking/influencer-settlement/internal/domain/payout"
	"github.com/xenking/influencer-settlement/internal/storage/postgres"
)

type seedFile struct {
	Influencers []influencerJSON `json:"influencers"`
	Products    []productJSON    `json:"products"`
	Codes       []codeJSON       `json:"codes"`
}

type influencerJSON struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Method           string `json:"method"`
	AccountHolder    string `json:"accountHolder"`
	CVU              string `json:"cvu"`
	Alias            string `json:"alias"`
	BankName         string `json:"bankName"`
	MercadoPagoEmail string `json:"mercadoPagoEmail"`
}

type productJSON struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	BasePrice   decimal.Decimal  `json:"basePrice"`
	LaunchPrice *decimal.Decimal `json:"launchPrice"`
	WeightGrams int              `json:"weightGrams"`
	Inactive    bool             `json:"inactive"`
	Variants    []struct {
		ID    string           `json:"id"`
		Name  string           `json:"name"`
		Size  string           `json:"size"`
		Price *decimal.Decimal `json:"price"`
		Stock *int             `json:"stock"`
	} `json:"variants"`
}

type codeJSON struct {
	Code         string           `json:"code"`
	InfluencerID string           `json:"influencerId"`
	Type         string           `json:"type"`
	Value        decimal.Decimal  `json:"value"`
	MinPurchase  *decimal.Decimal `json:"minPurchase"`
	MaxUses      *int             `json:"maxUses"`
	ValidUntil   string           `json:"validUntil"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
		timezone    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/seed.json", "path to seed JSON file")
	flag.StringVar(&timezone, "timezone", "America/Argentina/Buenos_Aires", "business timezone of code expiry days")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, seedPath, timezone); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, seedPath, timezone string) error {
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return errors.Wrapf(err, "load timezone %q", timezone)
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedInfluencers(ctx, lg, postgres.NewProfileRepository(pool), seed.Influencers); err != nil {
		return errors.Wrap(err, "seed influencers")
	}
	if err := seedProducts(ctx, lg, postgres.NewCatalogRepository(pool), seed.Products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	codes := discount.NewService(postgres.NewDiscountRepository(pool), loc)
	if err := seedCodes(ctx, lg, codes, seed.Codes); err != nil {
		return errors.Wrap(err, "seed codes")
	}
	return nil
}

func seedInfluencers(ctx context.Context, lg *zap.Logger, repo *postgres.ProfileRepository, influencers []influencerJSON) error {
	for _, in := range influencers {
		if err := repo.SaveProfile(ctx, payout.Profile{
			InfluencerID:     in.ID,
			Name:             in.Name,
			Email:            in.Email,
			Method:           payout.Method(in.Method),
			AccountHolder:    in.AccountHolder,
			CVU:              in.CVU,
			Alias:            in.Alias,
			BankName:         in.BankName,
			MercadoPagoEmail: in.MercadoPagoEmail,
		}); err != nil {
			return errors.Wrapf(err, "save influencer %s", in.ID)
		}
		lg.Info("Upserted influencer", zap.String("id", in.ID), zap.String("name", in.Name))
	}
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo *postgres.CatalogRepository, products []productJSON) error {
	for _, p := range products {
		variants := make([]catalog.Variant, 0, len(p.Variants))
		for _, v := range p.Variants {
			variants = append(variants, catalog.Variant{
				ID:        v.ID,
				ProductID: p.ID,
				Name:      v.Name,
				Size:      v.Size,
				Price:     v.Price,
				Stock:     v.Stock,
				IsActive:  true,
			})
		}
		if err := repo.SaveProduct(ctx, catalog.Product{
			ID:          p.ID,
			Name:        p.Name,
			BasePrice:   p.BasePrice,
			LaunchPrice: p.LaunchPrice,
			IsActive:    !p.Inactive,
			WeightGrams: p.WeightGrams,
		}, variants); err != nil {
			return errors.Wrapf(err, "save product %s", p.ID)
		}
		lg.Info("Upserted product", zap.String("id", p.ID), zap.Int("variants", len(variants)))
	}
	return nil
}

func seedCodes(ctx context.Context, lg *zap.Logger, svc *discount.Service, codes []codeJSON) error {
	for _, c := range codes {
		created, err := svc.Create(ctx, discount.CreateInput{
			Code:         c.Code,
			InfluencerID: c.InfluencerID,
			Type:         discount.Type(c.Type),
			Value:        c.Value,
			MinPurchase:  c.MinPurchase,
			MaxUses:      c.MaxUses,
			ValidUntil:   c.ValidUntil,
		})
		if errors.Is(err, discount.ErrDuplicateCode) {
			lg.Info("Code already exists", zap.String("code", c.Code))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create code %s", c.Code)
		}
		lg.Info("Created code", zap.String("code", created.Code), zap.String("influencer", created.InfluencerID))
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/fleetmed/medsync/internal/catalog"
	"github.com/fleetmed/medsync/internal/ledger"
	"github.com/fleetmed/medsync/internal/platform/db"
	"github.com/fleetmed/medsync/internal/prefs"
	"github.com/fleetmed/medsync/internal/stock"
)

// Seeds a development ledger: every catalogue medicine for each vehicle in
// SEED_VEHICLES, opened with SEED_OPENING units.
func main() {
	ctx := context.Background()
	store, err := db.Open(ctx, db.Config{
		Driver: db.Driver(getenv("STORE_DRIVER", string(db.DriverSQLite))),
		Path:   getenv("STORE_PATH", "medsync.db"),
		DSN:    os.Getenv("PG_DSN"),
	})
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	opening, err := stock.ParseQuantity(getenv("SEED_OPENING", "50"))
	if err != nil || opening < 0 {
		log.Fatalf("SEED_OPENING must be a non-negative number")
	}
	cat := catalog.Default()
	svc := ledger.NewService(ledger.NewRepository(store), prefs.NewStore(store), nil)

	for _, vehicle := range strings.Split(getenv("SEED_VEHICLES", "AMB-01,AMB-02"), ",") {
		vehicle = strings.TrimSpace(vehicle)
		if vehicle == "" {
			continue
		}
		fmt.Printf("→ Seeding %s...\n", vehicle)
		if err := seedVehicle(ctx, svc, cat, vehicle, opening); err != nil {
			log.Fatalf("seed %s: %v", vehicle, err)
		}
	}
	fmt.Println("✓ Seed complete")
}

func seedVehicle(ctx context.Context, svc *ledger.Service, cat *catalog.Catalog, vehicle string, opening stock.Quantity) error {
	for _, medicine := range cat.Medicines() {
		if _, err := svc.Upsert(ctx, ledger.Row{VehicleID: vehicle, Medicine: medicine, Opening: opening, Closing: opening}); err != nil {
			return err
		}
	}
	return nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// Command facility-sync pulls healthcare facilities for a bounding box from
// Overpass and upserts them into the database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/FooledKiwi/carepath/internal/app"
	"github.com/FooledKiwi/carepath/internal/geo"
	"github.com/FooledKiwi/carepath/internal/logger"
	"github.com/FooledKiwi/carepath/internal/osm"
	"github.com/FooledKiwi/carepath/internal/service"
	"github.com/FooledKiwi/carepath/internal/storage"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	DBDSN    string        `long:"db-dsn"   env:"DB_DSN"            description:"PostgreSQL connection string" required:"true"`
	Endpoint string        `long:"endpoint" env:"OVERPASS_ENDPOINT" description:"Overpass API endpoint" default:"https://overpass-api.de/api/interpreter"`
	Timeout  time.Duration `long:"timeout"  env:"OVERPASS_TIMEOUT"  description:"Overpass query timeout" default:"90s"`

	MinLat float64 `long:"min-lat" description:"South edge" required:"true"`
	MinLon float64 `long:"min-lon" description:"West edge"  required:"true"`
	MaxLat float64 `long:"max-lat" description:"North edge" required:"true"`
	MaxLon float64 `long:"max-lon" description:"East edge"  required:"true"`
}

func main() {
	_ = godotenv.Load()

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	opts.Logger.Setup()

	if err := run(opts); err != nil {
		log.Fatal().Err(err).Msg("facility sync failed")
	}
}

func run(opts Options) error {
	bbox := geo.BBox{MinLat: opts.MinLat, MinLon: opts.MinLon, MaxLat: opts.MaxLat, MaxLon: opts.MaxLon}
	for _, corner := range []geo.Point{{Lat: bbox.MinLat, Lon: bbox.MinLon}, {Lat: bbox.MaxLat, Lon: bbox.MaxLon}} {
		if err := corner.Validate(); err != nil {
			return fmt.Errorf("bounding box: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := app.OpenPool(opts.DBDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := storage.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	svc := service.NewFacilityService(storage.NewFacilitiesRepository(pool), osm.NewClient(opts.Endpoint, opts.Timeout))
	report, err := svc.Sync(ctx, bbox)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("interrupted")
		}
		return err
	}

	status, err := svc.Status(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int("fetched", report.Fetched).
		Int("written", report.Written).
		Int64("stored", status.Count).
		Msg("done")
	return nil
}

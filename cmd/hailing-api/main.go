// README: Entry point; loads config, wires services, starts HTTP server and background sweeps.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"hailing/internal/config"
	"hailing/internal/events"
	httptransport "hailing/internal/http"
	"hailing/internal/infra"
	"hailing/internal/logging"
	"hailing/internal/maps"
	"hailing/internal/modules/driver"
	"hailing/internal/modules/group"
	"hailing/internal/modules/location"
	"hailing/internal/modules/matching"
	"hailing/internal/modules/places"
	"hailing/internal/modules/pricing"
	"hailing/internal/modules/ride"
	"hailing/internal/modules/trip"
	"hailing/internal/notify"
)

const mapsRegion = "ke"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.Log.Level)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("hailing_api_exit", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	drivers := driver.NewService(driver.NewPostgresStore(db))

	publishers := notify.Multi{notify.NewRedisPublisher(rdb)}
	var verifier infra.TokenVerifier
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		msg, err := infra.NewMessaging(ctx, app)
		if err != nil {
			return err
		}
		publishers = append(publishers, notify.NewFCMPublisher(msg, drivers, log))
		if verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
			return err
		}
	} else {
		log.Warn("firebase_disabled", "reason", "HAILING_FIREBASE_PROJECT_ID not set; api auth and device push are off")
	}
	dispatcher := notify.NewDispatcher(publishers, log)

	router, err := newRouter(cfg)
	if err != nil {
		return err
	}
	locations := location.NewService(location.Deps{
		Store:    location.NewPostgresStore(db),
		Drivers:  drivers,
		Notifier: dispatcher,
		Router:   router,
		Logger:   log,
	}, cfg.Hailing)

	matcher := matching.NewService(matching.Deps{
		Locations: locations,
		Profiles:  drivers,
		Notifier:  dispatcher,
		Dispatch:  matching.NewRedisDispatchLog(rdb),
		Logger:    log,
	})

	rideStore := ride.NewPostgresStore(db)
	trips := trip.NewService(trip.Deps{
		Store:    trip.NewPostgresStore(db),
		Requests: rideStore,
		Drivers:  drivers,
		Logger:   log,
	}, cfg.Hailing)
	completions := events.Fanout{trips}
	if len(cfg.Kafka.Brokers) > 0 {
		emitter := events.NewKafkaEmitter(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.CompletionTopic))
		defer emitter.Close()
		completions = append(completions, emitter)
	}

	rides := ride.NewService(ride.Deps{
		Store:       rideStore,
		Drivers:     locations,
		Profiles:    drivers,
		Locations:   locations,
		Broadcaster: matcher,
		Notifier:    dispatcher,
		Completions: completions,
		Logger:      log,
	}, cfg.Hailing)
	matcher.SetRequests(rides)

	groups := group.NewService(group.NewPostgresStore(db), rides, log, nil)
	rides.SetGroupRecomputer(groups)

	placeDeps := places.Deps{
		Catalog: places.NewPostgresCatalog(db),
		Cache:   places.NewRedisCache(rdb),
		Logger:  log,
	}
	if cfg.Routing.GoogleMapKey != "" {
		fallback, err := maps.NewPlacesService(cfg.Routing.GoogleMapKey, mapsRegion)
		if err != nil {
			return err
		}
		placeDeps.Fallback = fallback
	}
	placeSvc := places.NewService(placeDeps, cfg.Hailing)

	fares, err := pricing.NewService(cfg.Hailing.Pricing)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handler := httptransport.NewRouter(httptransport.Services{
		Drivers:   drivers,
		Locations: locations,
		Matching:  matcher,
		Rides:     rides,
		Groups:    groups,
		Places:    placeSvc,
		Trips:     trips,
		Pricing:   fares,
	}, verifier, log)

	go locations.RunSweeper(ctx)
	go rides.RunExpiryMonitor(ctx)

	return httptransport.Run(ctx, httptransport.NewServer(cfg.HTTP.Addr, handler), log)
}

func newRouter(cfg config.Config) (maps.Router, error) {
	switch cfg.Routing.Provider {
	case "google":
		return maps.NewGoogleRouter(cfg.Routing.GoogleMapKey, mapsRegion)
	case "osrm", "":
		return maps.NewOSRMRouter(cfg.Routing.OSRMURL), nil
	}
	return nil, fmt.Errorf("unknown routing provider %q", cfg.Routing.Provider)
}

// Command server is the entry point for the beverage-bar control plane: one
// process, one robot, wiring recipe store → planner → order manager →
// scheduler → HTTP shell.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/barbrew/control-plane/internal/api"
	"github.com/barbrew/control-plane/internal/api/handlers"
	"github.com/barbrew/control-plane/internal/config"
	"github.com/barbrew/control-plane/internal/gateway"
	"github.com/barbrew/control-plane/internal/mode"
	"github.com/barbrew/control-plane/internal/notify"
	"github.com/barbrew/control-plane/internal/ordermanager"
	"github.com/barbrew/control-plane/internal/planner"
	"github.com/barbrew/control-plane/internal/recipe"
	"github.com/barbrew/control-plane/internal/scheduler"
	"github.com/barbrew/control-plane/internal/telemetry"
	"github.com/barbrew/control-plane/pkg/contracts"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("barbot control plane starting...")

	cfg := config.Load()

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init telemetry")
	}

	recipes := recipe.New(cfg.Recipe.Path, cfg.Recipe.Simulate, cfg.Recipe.SimulateSeconds)
	if err := recipes.Load(); err != nil {
		log.Fatal().Err(err).Msg("failed to load recipes")
	}

	topology, err := gateway.LoadTopology(cfg.Devices.TopologyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load device topology")
	}

	robot, device, io, pickup := buildGateways(cfg)

	clock := contracts.RealClock{}
	sink := notify.NewService()

	var modeCtl *mode.Controller
	var sched *scheduler.Scheduler
	modeCtl = mode.New(robot, sink, func() {
		if sched != nil {
			sched.ResetPickupRotation()
		}
	})

	orders := ordermanager.New(recipes, modeCtl, clock, sink)
	plannerInstance := planner.New(recipes)

	sched = scheduler.New(scheduler.Config{
		Robot:             robot,
		Device:            device,
		Io:                io,
		Pickup:            pickup,
		Topology:          topology,
		Planner:           plannerInstance,
		Orders:            orders,
		Mode:              modeCtl,
		Clock:             clock,
		Sink:              sink,
		PickupMode:        cfg.Pickup.Mode,
		CoffeeBoilerCools: cfg.Devices.CoffeeBoilerCools,
	})
	orders.Wire(plannerInstance, sched)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The order-manager plan loop and the scheduler dispatch loop are the
	// two long-running core goroutines; an errgroup lets shutdown wait for
	// both to actually exit instead of racing the process down under them.
	var coreLoops errgroup.Group
	coreLoops.Go(func() error {
		orders.Run(ctx)
		return nil
	})
	coreLoops.Go(func() error {
		sched.Run(ctx)
		return nil
	})

	h := handlers.New(orders, modeCtl, sink, cfg.Version)
	router := api.NewRouter(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
		// WriteTimeout intentionally unset: the /events SSE stream is
		// long-lived and must not be cut off mid-subscription.
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down gracefully...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		coreLoops.Wait()
		shutdownTelemetry(shutdownCtx)
	}()

	log.Info().Int("port", cfg.Port).Msg("barbot control plane ready")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// buildGateways selects the HTTP-bridge gateway for any device with a
// configured endpoint, falling back to the in-process simulator — the same
// boundary contracts.go documents for swapping a real robot for a bench
// simulation with a one-line change.
func buildGateways(cfg *config.Config) (contracts.RobotGateway, contracts.DeviceGateway, contracts.IoGateway, contracts.PickupGateway) {
	var robot contracts.RobotGateway
	if cfg.Devices.RobotEndpoint != "" {
		robot = gateway.NewHTTPRobotGateway(cfg.Devices.RobotEndpoint)
	} else {
		robot = gateway.NewSimRobotGateway(2 * time.Second)
	}

	var device contracts.DeviceGateway
	if cfg.Devices.DeviceEndpoint != "" {
		device = gateway.NewHTTPDeviceGateway(cfg.Devices.DeviceEndpoint)
	} else {
		device = gateway.NewSimDeviceGateway()
	}

	var ioGW contracts.IoGateway
	if cfg.Devices.IoEndpoint != "" {
		ioGW = gateway.NewHTTPIoGateway(cfg.Devices.IoEndpoint)
	} else {
		ioGW = gateway.NewSimIoGateway()
	}

	var pickup contracts.PickupGateway
	if cfg.Devices.PickupEndpoint != "" {
		pickup = gateway.NewHTTPPickupGateway(cfg.Devices.PickupEndpoint)
	} else {
		pickup = gateway.NewSimPickupGateway(4)
	}

	return robot, device, ioGW, pickup
}

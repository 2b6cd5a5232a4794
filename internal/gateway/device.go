package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ── HTTP-bridge implementation ───────────────────────────────

// HTTPDeviceGateway drives the ancillary beverage stations (coffee machine,
// ice/water/sparkling/hot-water valves, syrup pumps) through a sidecar
// bridge process. Coffee and rinse are fire-and-forget per spec §4.4 so the
// robot can move on to the cup-serve steps while the coffee machine brews;
// the rest block for their dispense duration.
type HTTPDeviceGateway struct {
	mu     sync.Mutex
	bridge *bridgeClient
}

func NewHTTPDeviceGateway(baseURL string) *HTTPDeviceGateway {
	return &HTTPDeviceGateway{bridge: newBridgeClient(baseURL, 30*time.Second)}
}

// coffeeRetries and coffeeBackoff implement spec §9's "only the
// coffee-machine gateway internally retries (3x with 0.5s backoff) because
// its wire protocol is flakiest; the core does not retry at task
// granularity."
const (
	coffeeRetries = 3
	coffeeBackoff = 500 * time.Millisecond
)

func (g *HTTPDeviceGateway) MakeCoffee(ctx context.Context, productID int, prechargeSecs float64) {
	go func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		params := map[string]interface{}{"product_id": productID, "precharge_secs": prechargeSecs}
		bg := context.WithoutCancel(ctx)
		var err error
		for attempt := 1; attempt <= coffeeRetries; attempt++ {
			if err = g.bridge.call(bg, "make_coffee", params, nil); err == nil {
				return
			}
			log.Warn().Err(err).Int("attempt", attempt).Int("product_id", productID).Msg("coffee machine call failed, retrying")
			if attempt < coffeeRetries {
				time.Sleep(coffeeBackoff)
			}
		}
		log.Error().Err(err).Int("product_id", productID).Msg("coffee machine call failed after retries")
	}()
}

func (g *HTTPDeviceGateway) ExecuteRinse(ctx context.Context) {
	go func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if err := g.bridge.call(context.WithoutCancel(ctx), "rinse", nil, nil); err != nil {
			log.Error().Err(err).Msg("rinse call failed")
		}
	}()
}

func (g *HTTPDeviceGateway) DispenseIceWater(ctx context.Context, iceSecs, waterSecs float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	params := map[string]interface{}{"ice_secs": iceSecs, "water_secs": waterSecs}
	return g.bridge.call(ctx, "dispense_ice_water", params, nil)
}

func (g *HTTPDeviceGateway) DispenseSparkling(ctx context.Context, secs float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bridge.call(ctx, "dispense_sparkling", map[string]interface{}{"secs": secs}, nil)
}

func (g *HTTPDeviceGateway) DispenseHotWater(ctx context.Context, secs float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bridge.call(ctx, "dispense_hot_water", map[string]interface{}{"secs": secs}, nil)
}

func (g *HTTPDeviceGateway) DispenseSyrup(ctx context.Context, id int, secs float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bridge.call(ctx, "dispense_syrup", map[string]interface{}{"id": id, "secs": secs}, nil)
}

func (g *HTTPDeviceGateway) StopAll(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.bridge.call(ctx, "stop_all", nil, nil); err != nil {
		log.Error().Err(err).Msg("stop_all call failed during fail-safe")
	}
}

// ── Simulated implementation ─────────────────────────────────

// SimDeviceGateway simulates every station as a plain sleep, scaled by
// speed (1.0 = real time; the recipe-store simulation override already
// shrinks recipe durations, so speed usually stays 1.0 in tests).
type SimDeviceGateway struct {
	mu    sync.Mutex
	speed float64
	clock func(d time.Duration) <-chan time.Time
}

func NewSimDeviceGateway() *SimDeviceGateway {
	return &SimDeviceGateway{speed: 1.0, clock: time.After}
}

func (g *SimDeviceGateway) scaled(secs float64) time.Duration {
	return time.Duration(secs * g.speed * float64(time.Second))
}

func (g *SimDeviceGateway) MakeCoffee(ctx context.Context, productID int, prechargeSecs float64) {
	go func() {
		log.Debug().Int("product_id", productID).Float64("precharge_secs", prechargeSecs).Msg("sim coffee brewing")
	}()
}

func (g *SimDeviceGateway) ExecuteRinse(ctx context.Context) {
	go func() {
		log.Debug().Msg("sim rinse")
	}()
}

func (g *SimDeviceGateway) DispenseIceWater(ctx context.Context, iceSecs, waterSecs float64) error {
	total := iceSecs
	if waterSecs > total {
		total = waterSecs
	}
	return g.wait(ctx, total)
}

func (g *SimDeviceGateway) DispenseSparkling(ctx context.Context, secs float64) error {
	return g.wait(ctx, secs)
}

func (g *SimDeviceGateway) DispenseHotWater(ctx context.Context, secs float64) error {
	return g.wait(ctx, secs)
}

func (g *SimDeviceGateway) DispenseSyrup(ctx context.Context, id int, secs float64) error {
	return g.wait(ctx, secs)
}

func (g *SimDeviceGateway) StopAll(ctx context.Context) {
	log.Debug().Msg("sim stop_all")
}

func (g *SimDeviceGateway) wait(ctx context.Context, secs float64) error {
	if secs <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.clock(g.scaled(secs)):
		return nil
	}
}

package gateway

import (
	"context"
	"sync"
	"time"
)

// ── HTTP-bridge implementation ───────────────────────────────

// HTTPIoGateway is the raw Modbus coil surface used by the cup-dispense
// handshake (spec §4.5): triggering the cup chute, the cup-presence
// sensor, and the per-unit syrup pumps.
type HTTPIoGateway struct {
	mu     sync.Mutex
	bridge *bridgeClient
}

func NewHTTPIoGateway(baseURL string) *HTTPIoGateway {
	return &HTTPIoGateway{bridge: newBridgeClient(baseURL, 10*time.Second)}
}

func (g *HTTPIoGateway) Pulse(ctx context.Context, unit, addr int, seconds float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	params := map[string]interface{}{"unit": unit, "addr": addr, "seconds": seconds}
	return g.bridge.call(ctx, "pulse", params, nil)
}

func (g *HTTPIoGateway) WriteCoil(ctx context.Context, unit, addr int, value bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	params := map[string]interface{}{"unit": unit, "addr": addr, "value": value}
	return g.bridge.call(ctx, "write_coil", params, nil)
}

func (g *HTTPIoGateway) ReadCoils(ctx context.Context, unit, addr, count int) ([]bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out struct {
		Values []bool `json:"values"`
	}
	params := map[string]interface{}{"unit": unit, "addr": addr, "count": count}
	err := g.bridge.call(ctx, "read_coils", params, &out)
	return out.Values, err
}

// ── Simulated implementation ─────────────────────────────────

// SimIoGateway models coils as an in-memory bitfield per (unit, addr), and
// lets tests force the cup-presence sensor outcome via SetCupPresence to
// exercise the cup-sensor-failure path of spec §4.5.
type SimIoGateway struct {
	mu    sync.Mutex
	coils map[[2]int]bool
}

func NewSimIoGateway() *SimIoGateway {
	return &SimIoGateway{coils: make(map[[2]int]bool)}
}

func (g *SimIoGateway) Pulse(ctx context.Context, unit, addr int, seconds float64) error {
	if err := g.WriteCoil(ctx, unit, addr, true); err != nil {
		return err
	}
	d := time.Duration(seconds * float64(time.Second))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
	}
	return g.WriteCoil(ctx, unit, addr, false)
}

func (g *SimIoGateway) WriteCoil(_ context.Context, unit, addr int, value bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.coils[[2]int{unit, addr}] = value
	return nil
}

func (g *SimIoGateway) ReadCoils(_ context.Context, unit, addr, count int) ([]bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		out[i] = g.coils[[2]int{unit, addr + i}]
	}
	return out, nil
}

// SetCupPresence lets a test pre-seed the cup sensor coil so the scheduler's
// cup-dispense handshake observes present/absent deterministically.
func (g *SimIoGateway) SetCupPresence(unit, addr int, present bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.coils[[2]int{unit, addr}] = present
}

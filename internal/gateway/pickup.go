package gateway

import (
	"context"
	"sync"
	"time"
)

// ── HTTP-bridge implementation ───────────────────────────────

// HTTPPickupGateway drives the customer pickup rack's slot indicators and
// reads its presence sensors, used by the "sensor" pickup-assignment
// strategy of spec §4.7.
type HTTPPickupGateway struct {
	mu     sync.Mutex
	bridge *bridgeClient
}

func NewHTTPPickupGateway(baseURL string) *HTTPPickupGateway {
	return &HTTPPickupGateway{bridge: newBridgeClient(baseURL, 5*time.Second)}
}

func (g *HTTPPickupGateway) NotifySlot(ctx context.Context, zone, slot int, orderNo string, menuCode int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	params := map[string]interface{}{
		"zone": zone, "slot": slot, "order_no": orderNo, "menu_code": menuCode,
	}
	return g.bridge.call(ctx, "notify_slot", params, nil)
}

func (g *HTTPPickupGateway) GetOccupancy(ctx context.Context, zone int) ([]bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out struct {
		Occupied []bool `json:"occupied"`
	}
	err := g.bridge.call(ctx, "get_occupancy", map[string]interface{}{"zone": zone}, &out)
	return out.Occupied, err
}

// ── Simulated implementation ─────────────────────────────────

// SimPickupGateway tracks slot occupancy per zone in memory; occupancy
// starts empty and a test can mark slots occupied to exercise the
// sensor-polled assignment strategy. Index i of a zone's occupancy vector
// is slot number i+1.
type SimPickupGateway struct {
	mu        sync.Mutex
	slots     int
	occupancy map[int][]bool
}

func NewSimPickupGateway(slots int) *SimPickupGateway {
	return &SimPickupGateway{slots: slots, occupancy: make(map[int][]bool)}
}

func (g *SimPickupGateway) NotifySlot(_ context.Context, zone, slot int, orderNo string, menuCode int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	occ := g.zoneOccupancy(zone)
	if slot >= 1 && slot <= len(occ) {
		occ[slot-1] = true
	}
	return nil
}

func (g *SimPickupGateway) GetOccupancy(_ context.Context, zone int) ([]bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	occ := g.zoneOccupancy(zone)
	out := make([]bool, len(occ))
	copy(out, occ)
	return out, nil
}

// SetOccupied lets a test mark/clear a slot directly, simulating a customer
// removing their cup from the rack. slot is the 0-based index into the
// zone's occupancy vector.
func (g *SimPickupGateway) SetOccupied(zone, slot int, occupied bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	occ := g.zoneOccupancy(zone)
	if slot >= 0 && slot < len(occ) {
		occ[slot] = occupied
	}
}

func (g *SimPickupGateway) zoneOccupancy(zone int) []bool {
	occ, ok := g.occupancy[zone]
	if !ok {
		occ = make([]bool, g.slots)
		g.occupancy[zone] = occ
	}
	return occ
}

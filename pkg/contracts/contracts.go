// Package contracts defines the seams between the scheduling core and its
// external collaborators: the robot/device/IO/pickup gateways, the coffee
// machine, recipe persistence, and the event sink the HTTP shell subscribes
// to. Concrete implementations live in internal/gateway, internal/recipe,
// and internal/notify; the core (internal/planner, internal/ordermanager,
// internal/scheduler) only ever depends on these interfaces, so swapping an
// HTTP-bridge gateway for a simulated one is a one-line change in main.go —
// the same boundary shape the teacher draws between OSS and enterprise
// implementations.
package contracts

import (
	"context"
	"time"

	"github.com/barbrew/control-plane/pkg/models"
)

// ── Robot gateway ────────────────────────────────────────────

// RobotGateway exposes the robot's register plane and program control.
// The register space is opaque integers; the scheduler imposes meaning.
type RobotGateway interface {
	ReadRegister(ctx context.Context, addr int) (int, error)
	WriteRegister(ctx context.Context, addr, value int) error
	SendCommand(ctx context.Context, cmdCode int) error

	// WaitForInit polls RegInit until it equals target, ctx is done, or
	// timeout elapses. Leaving AUTO is observed through ctx: callers pass a
	// context derived from the mode controller's AutoContext.
	WaitForInit(ctx context.Context, target int, timeout time.Duration) error

	StopProgram(ctx context.Context) error
	StartProgram(ctx context.Context, idx int) error
}

// ── Device gateway ───────────────────────────────────────────

// DeviceGateway actuates the ancillary stations. Coffee and rinse are
// fire-and-forget; the rest block for the requested duration.
type DeviceGateway interface {
	MakeCoffee(ctx context.Context, productID int, prechargeSecs float64)
	ExecuteRinse(ctx context.Context)
	DispenseIceWater(ctx context.Context, iceSecs, waterSecs float64) error
	DispenseSparkling(ctx context.Context, secs float64) error
	DispenseHotWater(ctx context.Context, secs float64) error
	DispenseSyrup(ctx context.Context, id int, secs float64) error
	StopAll(ctx context.Context)
}

// ── IO gateway ───────────────────────────────────────────────

// IoGateway is the raw Modbus coil surface used for the cup-dispense
// handshake (spec §4.5).
type IoGateway interface {
	Pulse(ctx context.Context, unit, addr int, seconds float64) error
	WriteCoil(ctx context.Context, unit, addr int, value bool) error
	ReadCoils(ctx context.Context, unit, addr, count int) ([]bool, error)
}

// ── Pickup gateway ───────────────────────────────────────────

// PickupGateway drives the customer pickup rack.
type PickupGateway interface {
	NotifySlot(ctx context.Context, zone, slot int, orderNo string, menuCode int) error
	GetOccupancy(ctx context.Context, zone int) ([]bool, error)
}

// ── Recipe store ─────────────────────────────────────────────

// RecipeStore serves menu definitions by code.
type RecipeStore interface {
	Get(menuCode int) (models.Recipe, bool)
	All() []models.Recipe
}

// ── Event sink ───────────────────────────────────────────────

// OrderEvent is published whenever an order or the system mode changes
// state, for the out-of-band web UI to consume (spec §2).
type OrderEvent struct {
	Type      string // "order_status", "mode_changed"
	OrderUUID string
	OrderNo   string
	Status    models.OrderStatus
	Mode      models.SystemMode
	Timestamp time.Time
}

// EventSink fans events out to subscribers. Implemented by internal/notify.
type EventSink interface {
	Publish(evt OrderEvent)
}

// ── Clock ────────────────────────────────────────────────────

// Clock abstracts wall-clock time and sleeping so tests can run the
// second-scale waits in spec.md (coffee extraction, handshake timeouts)
// without actually waiting. Production uses RealClock.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

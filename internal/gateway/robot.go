package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/barbrew/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// ── HTTP-bridge implementation ───────────────────────────────

// HTTPRobotGateway drives the six-axis robot through a sidecar bridge
// process that owns the real Modbus-RTU link. One robot, one serial link:
// every call is serialized behind mu, per spec §5 "Every access to the
// shared ... modbus bus is serialized inside the respective gateway with
// its own lock."
type HTTPRobotGateway struct {
	mu     sync.Mutex
	bridge *bridgeClient
	poll   time.Duration
}

// NewHTTPRobotGateway builds a robot gateway talking to baseURL.
func NewHTTPRobotGateway(baseURL string) *HTTPRobotGateway {
	return &HTTPRobotGateway{
		bridge: newBridgeClient(baseURL, 5*time.Second),
		poll:   100 * time.Millisecond,
	}
}

func (g *HTTPRobotGateway) ReadRegister(ctx context.Context, addr int) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out struct {
		Value int `json:"value"`
	}
	err := g.bridge.call(ctx, "read_register", map[string]interface{}{"addr": addr}, &out)
	return out.Value, err
}

func (g *HTTPRobotGateway) WriteRegister(ctx context.Context, addr, value int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bridge.call(ctx, "write_register", map[string]interface{}{"addr": addr, "value": value}, nil)
}

func (g *HTTPRobotGateway) SendCommand(ctx context.Context, cmdCode int) error {
	return g.WriteRegister(ctx, models.RegCmd, cmdCode)
}

func (g *HTTPRobotGateway) StopProgram(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bridge.call(ctx, "stop_program", nil, nil)
}

func (g *HTTPRobotGateway) StartProgram(ctx context.Context, idx int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bridge.call(ctx, "start_program", map[string]interface{}{"idx": idx}, nil)
}

// WaitForInit polls RegInit until it equals target or timeout/ctx elapses.
// The caller is responsible for deriving ctx from the system-mode controller
// so that leaving AUTO aborts the wait (spec §5).
func (g *HTTPRobotGateway) WaitForInit(ctx context.Context, target int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			v, err := g.ReadRegister(ctx, models.RegInit)
			if err != nil {
				return err
			}
			if v == target {
				return nil
			}
			if time.Now().After(deadline) {
				return &RobotTimeoutError{Target: target, Timeout: timeout}
			}
		}
	}
}

// RobotTimeoutError is spec §7's RobotTimeout kind.
type RobotTimeoutError struct {
	Target  int
	Timeout time.Duration
}

func (e *RobotTimeoutError) Error() string {
	return fmt.Sprintf("robot did not reach REG_INIT=%d within %s", e.Target, e.Timeout)
}

// ── Simulated implementation ─────────────────────────────────

// SimRobotGateway is an in-process stand-in for the robot used for local
// runs and tests: SendCommand writes cmdCode to RegCmd and schedules RegInit
// to flip to cmd+AckOffset after motionTime, as if the robot had executed
// the move. A plain WriteRegister to RegCmd schedules no ack.
type SimRobotGateway struct {
	mu         sync.Mutex
	registers  map[int]int
	motionTime time.Duration
	programRunning bool
}

// NewSimRobotGateway builds a simulated robot. motionTime is how long a
// motion command takes to "complete" (flip RegInit).
func NewSimRobotGateway(motionTime time.Duration) *SimRobotGateway {
	return &SimRobotGateway{
		registers:  make(map[int]int),
		motionTime: motionTime,
	}
}

func (g *SimRobotGateway) ReadRegister(_ context.Context, addr int) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registers[addr], nil
}

func (g *SimRobotGateway) WriteRegister(_ context.Context, addr, value int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registers[addr] = value
	return nil
}

func (g *SimRobotGateway) SendCommand(ctx context.Context, cmdCode int) error {
	if err := g.WriteRegister(ctx, models.RegCmd, cmdCode); err != nil {
		return err
	}
	g.mu.Lock()
	running := g.programRunning
	g.mu.Unlock()
	if !running {
		log.Warn().Int("cmd", cmdCode).Msg("sim robot: command sent while program is stopped")
	}
	go func() {
		time.Sleep(g.motionTime)
		g.mu.Lock()
		g.registers[models.RegInit] = cmdCode + models.AckOffset
		g.mu.Unlock()
	}()
	return nil
}

func (g *SimRobotGateway) WaitForInit(ctx context.Context, target int, timeout time.Duration) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			v, _ := g.ReadRegister(ctx, models.RegInit)
			if v == target {
				return nil
			}
			if time.Now().After(deadline) {
				return &RobotTimeoutError{Target: target, Timeout: timeout}
			}
		}
	}
}

func (g *SimRobotGateway) StopProgram(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.programRunning = false
	return nil
}

func (g *SimRobotGateway) StartProgram(_ context.Context, _ int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.programRunning = true
	return nil
}

// Seed sets a register directly, letting tests play the robot's side of a
// handshake (RegCupOn, RegCupMove, RegInit). The cup-presence sensor is a
// coil, seeded through SimIoGateway.SetCupPresence instead.
func (g *SimRobotGateway) Seed(addr, value int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registers[addr] = value
}

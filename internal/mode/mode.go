// Package mode owns the single SystemMode cell shared between the order
// manager and the scheduler (spec §9 "Global mode cell"). Every mutation
// goes through Controller.Set so the robot-program start/stop side effects
// and subscriber notifications never drift from the mode value itself.
package mode

import (
	"context"
	"sync"

	"github.com/barbrew/control-plane/pkg/contracts"
	"github.com/barbrew/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// ResetFunc is called on every MANUAL→AUTO transition so the scheduler can
// reset its pickup-rotation counter and any other auto-run-scoped state.
type ResetFunc func()

// Controller is the single place SystemMode is read and written from.
type Controller struct {
	mu      sync.RWMutex
	mode    models.SystemMode
	robot   contracts.RobotGateway
	sink    contracts.EventSink
	onEnter ResetFunc

	autoCtx    context.Context
	autoCancel context.CancelFunc

	subs []chan models.SystemMode
}

// New builds a Controller starting in MANUAL, the safe power-on default.
func New(robot contracts.RobotGateway, sink contracts.EventSink, onEnterAuto ResetFunc) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // start already-cancelled: nothing should be mid-wait before AUTO begins
	return &Controller{
		mode:       models.ModeManual,
		robot:      robot,
		sink:       sink,
		onEnter:    onEnterAuto,
		autoCtx:    ctx,
		autoCancel: cancel,
	}
}

// Get returns the current mode.
func (c *Controller) Get() models.SystemMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// AutoContext returns a context valid for the lifetime of the current AUTO
// run. It is already-cancelled outside of AUTO. Scheduler suspension points
// (register waits, parallel-interleave waits) derive their wait context from
// this one so that Set(ctx, ModeManual) aborts them immediately.
func (c *Controller) AutoContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.autoCtx
}

// Set transitions to target, performing the robot program side effects and
// notifying subscribers. Calling Set with the current mode is a no-op.
func (c *Controller) Set(ctx context.Context, target models.SystemMode) error {
	c.mu.Lock()
	if c.mode == target {
		c.mu.Unlock()
		return nil
	}
	prev := c.mode
	c.mode = target

	switch target {
	case models.ModeAuto:
		c.autoCtx, c.autoCancel = context.WithCancel(context.Background())
	case models.ModeManual:
		c.autoCancel()
	}
	c.mu.Unlock()

	log.Info().Str("from", prev.String()).Str("to", target.String()).Msg("system mode changed")

	var err error
	switch target {
	case models.ModeAuto:
		if startErr := c.robot.StartProgram(ctx, 0); startErr != nil {
			err = startErr
		} else if c.onEnter != nil {
			c.onEnter()
		}
	case models.ModeManual:
		if stopErr := c.robot.StopProgram(ctx); stopErr != nil {
			err = stopErr
		}
	}

	if c.sink != nil {
		c.sink.Publish(contracts.OrderEvent{
			Type: "mode_changed",
			Mode: target,
		})
	}
	c.broadcast(target)

	if err != nil {
		// Side effect failed, but the mode cell already flipped: the
		// scheduler must still observe AUTO/MANUAL consistently, so we
		// report the error without rolling the mode back. Nothing retries
		// the failed StartProgram/StopProgram call.
		return err
	}
	return nil
}

// Subscribe returns a channel that receives every future mode transition.
// Buffered by one; a slow subscriber only ever sees the latest value.
func (c *Controller) Subscribe() <-chan models.SystemMode {
	ch := make(chan models.SystemMode, 1)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

func (c *Controller) broadcast(mode models.SystemMode) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.subs {
		select {
		case ch <- mode:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- mode:
			default:
			}
		}
	}
}

// Package scheduler owns the single robot: it dispatches an order's tasks
// respecting dependencies, runs the register handshake, runs the
// cup-dispense and parallel-interleave sub-protocols, and implements
// fail-safe. This is the largest component in the system (spec §2: ~55%
// of the core budget) because it is the only place robot, device, and
// order-lifecycle concerns meet.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/barbrew/control-plane/internal/gateway"
	"github.com/barbrew/control-plane/pkg/contracts"
	"github.com/barbrew/control-plane/pkg/models"
)

const (
	dispatchPoll        = 100 * time.Millisecond
	registerWriteDelay  = 50 * time.Millisecond
	motionTimeout       = 600 * time.Second
	cupHandshakeTimeout = 60 * time.Second
	pickupSensorPoll    = 2 * time.Second
	boilerIdleThreshold = 5 * time.Minute
	boilerIdleExtension = 20 * time.Second
	parallelMinRemaining = 20 * time.Second
)

// Planner plans a waiting order into a task DAG, used to re-plan an order
// picked up by the parallel-interleave sub-protocol (spec §4.6).
type Planner interface {
	Plan(order *models.Order) ([]models.Task, error)
}

// OrderRegistry is the scheduler's narrow view of the order manager: status
// callbacks and the parallel-candidate protocol. A typed interface injected
// at construction, per spec §9's callback design note.
type OrderRegistry interface {
	UpdateStatus(uuid string, status models.OrderStatus)
	FindParallelCandidate() (*models.Order, bool)
	RestoreWaiting(uuid string, skip bool)
	ClearParallelSkips()
}

// ModeSource is the scheduler's view of the system-mode cell: reading it,
// deriving the auto-scoped context every suspension point waits against,
// and forcing MANUAL during fail-safe. Satisfied by internal/mode.Controller.
type ModeSource interface {
	Get() models.SystemMode
	AutoContext() context.Context
	Set(ctx context.Context, target models.SystemMode) error
}

// Scheduler is the single-robot task dispatcher.
type Scheduler struct {
	mu             sync.Mutex
	tasks          []*models.Task
	chainedTaskID  *int
	rotateCounter  int
	coffeeMachineUsed bool
	lastCoffeeTime time.Time

	robotBusy atomic.Bool

	robot    contracts.RobotGateway
	device   contracts.DeviceGateway
	io       contracts.IoGateway
	pickup   contracts.PickupGateway
	topology gateway.Topology

	planner Planner
	orders  OrderRegistry
	mode    ModeSource
	clock   contracts.Clock
	sink    contracts.EventSink

	pickupMode  string // "rotate" or "sensor"
	boilerCools bool
}

// Config bundles Scheduler's construction-time dependencies.
type Config struct {
	Robot    contracts.RobotGateway
	Device   contracts.DeviceGateway
	Io       contracts.IoGateway
	Pickup   contracts.PickupGateway
	Topology gateway.Topology

	Planner Planner
	Orders  OrderRegistry
	Mode    ModeSource
	Clock   contracts.Clock
	Sink    contracts.EventSink

	PickupMode        string
	CoffeeBoilerCools bool
}

// New builds a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		robot:       cfg.Robot,
		device:      cfg.Device,
		io:          cfg.Io,
		pickup:      cfg.Pickup,
		topology:    cfg.Topology,
		planner:     cfg.Planner,
		orders:      cfg.Orders,
		mode:        cfg.Mode,
		clock:       cfg.Clock,
		sink:        cfg.Sink,
		pickupMode:  cfg.PickupMode,
		boilerCools: cfg.CoffeeBoilerCools,
	}
}

// Submit appends order's planned tasks to the dispatch list.
func (s *Scheduler) Submit(order *models.Order, tasks []models.Task) {
	s.appendTasks(tasks)
	log.Info().Str("actor", "SCH").Str("event", "QUEUE").Str("uuid", order.UUID).
		Int("tasks", len(tasks)).Msg("order submitted to scheduler")
}

// CancelOrderTasks removes every PENDING task belonging to orderUUID. A
// RUNNING task cannot be interrupted mid-command (spec §4.4/§5).
func (s *Scheduler) CancelOrderTasks(orderUUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if t.OrderUUID == orderUUID && t.Status == models.TaskPending {
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
}

// ResetPickupRotation resets the round-robin slot counter. Called on every
// MANUAL→AUTO transition (spec §4.8).
func (s *Scheduler) ResetPickupRotation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateCounter = 0
}

// Run drives the dispatcher loop until ctx is cancelled (spec §4.4).
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.robotBusy.Load() {
			if err := s.clock.Sleep(ctx, dispatchPoll); err != nil {
				return
			}
			continue
		}

		task := s.pickEligible()
		if task == nil {
			if err := s.clock.Sleep(ctx, dispatchPoll); err != nil {
				return
			}
			continue
		}

		s.robotBusy.Store(true)
		go s.runDispatch(task)
	}
}

func (s *Scheduler) runDispatch(task *models.Task) {
	defer s.robotBusy.Store(false)
	ctx := s.mode.AutoContext()
	if err := s.executeTaskBody(ctx, task, false); err != nil {
		log.Error().Err(err).Str("uuid", task.OrderUUID).Int("task_id", task.TaskID).Msg("task execution failed")
	}
}

// pickEligible implements the dispatch rule: a bound chain restricts
// eligibility to the chained successor; otherwise the first PENDING task
// (in submission order) whose dependencies are all COMPLETED.
func (s *Scheduler) pickEligible() *models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chainedTaskID != nil {
		for _, t := range s.tasks {
			if t.TaskID == *s.chainedTaskID && t.Status == models.TaskPending {
				return t
			}
		}
		return nil
	}

	for _, t := range s.tasks {
		if t.Status != models.TaskPending {
			continue
		}
		if s.depsCompleteLocked(t) {
			return t
		}
	}
	return nil
}

func (s *Scheduler) depsCompleteLocked(t *models.Task) bool {
	for _, dep := range t.Dependencies {
		d := s.findTaskLocked(dep)
		if d == nil || d.Status != models.TaskCompleted {
			return false
		}
	}
	return true
}

func (s *Scheduler) findTaskLocked(id int) *models.Task {
	for _, t := range s.tasks {
		if t.TaskID == id {
			return t
		}
	}
	return nil
}

func (s *Scheduler) findTask(id int) *models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findTaskLocked(id)
}

func (s *Scheduler) appendTasks(tasks []models.Task) []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Task, len(tasks))
	for i := range tasks {
		t := tasks[i]
		s.tasks = append(s.tasks, &t)
		out[i] = &t
	}
	return out
}

func (s *Scheduler) otherPendingExists(exclude *models.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t != exclude && t.Status == models.TaskPending {
			return true
		}
	}
	return false
}

// executeTaskBody runs the twelve-step sequence of spec §4.4's
// "Execute-one-task" for task. forceSkipHome is set when a secondary order
// is being driven inline by the parallel sub-protocol (spec §4.6.b: "treat
// any skippable HOME as always-skip").
func (s *Scheduler) executeTaskBody(ctx context.Context, task *models.Task, forceSkipHome bool) error {
	if task.Skippable && task.CmdCode == models.CmdHome {
		if forceSkipHome || s.otherPendingExists(task) {
			s.skipHome(task)
			return nil
		}
	}

	s.mu.Lock()
	task.Status = models.TaskRunning
	s.mu.Unlock()

	log.Debug().Str("actor", "SCH").Str("event", "START").Int("task_id", task.TaskID).
		Int("cmd", task.CmdCode).Str("uuid", task.OrderUUID).Msg("task execution started")

	reg := s.topology.Registers
	actualCmd := task.CmdCode

	// Step 1: parallel check. FindParallelCandidate atomically claims the
	// candidate (flips it to PROCESSING, dequeues it) as a side effect, so
	// it must only be called once per coffee move; the claimed order is
	// threaded through to runParallelSubProtocol rather than looked up again.
	var firstCandidate *models.Order
	if task.ParallelCheckPoint {
		if candidate, ok := s.orders.FindParallelCandidate(); ok {
			actualCmd = models.CmdCoffeePlace
			firstCandidate = candidate
		}
	}

	// Step 2: pre device action.
	if task.PreDeviceAction != nil {
		if err := s.runDeviceAction(ctx, task, task.PreDeviceAction); err != nil {
			s.fail(task, err)
			return err
		}
	}

	// Step 3: pickup slot acquisition.
	if task.CmdCode == models.CmdPickupPlace {
		slot, err := s.acquirePickupSlot(ctx)
		if err != nil {
			s.fail(task, err)
			return err
		}
		if task.Params == nil {
			task.Params = make(map[int]int)
		}
		task.Params[reg.PickupIdx] = slot
		if task.NotifyPickup != nil {
			task.NotifyPickup.AssignedSlot = slot
		}
	}

	// Step 4: reset REG_INIT if dirty.
	if v, err := s.robot.ReadRegister(ctx, reg.Init); err != nil {
		s.fail(task, err)
		return err
	} else if v != 0 {
		if err := s.robot.WriteRegister(ctx, reg.Init, 0); err != nil {
			s.fail(task, err)
			return err
		}
	}

	// Step 5: write params with a small inter-write delay.
	for addr, value := range task.Params {
		if err := s.robot.WriteRegister(ctx, addr, value); err != nil {
			s.fail(task, err)
			return err
		}
		if err := s.clock.Sleep(ctx, registerWriteDelay); err != nil {
			s.fail(task, s.classifyWaitErr(err, "register write delay"))
			return err
		}
	}

	// Step 6: send command.
	if err := s.robot.SendCommand(ctx, actualCmd); err != nil {
		s.fail(task, err)
		return err
	}

	// Step 7: cup sub-protocol takes over the ack wait for CUP_MOVE.
	if task.CmdCode == models.CmdCupMove {
		if err := s.cupSubProtocol(ctx, task); err != nil {
			var sensorErr *CupSensorFailureError
			if errors.As(err, &sensorErr) {
				s.mu.Lock()
				task.Status = models.TaskFailed
				s.chainedTaskID = nil
				s.mu.Unlock()
			} else {
				s.fail(task, err)
			}
			return err
		}
	} else {
		// Step 8: wait for the ack, then reset REG_INIT.
		target := actualCmd + models.AckOffset
		if err := s.waitForInit(ctx, target, motionTimeout); err != nil {
			s.fail(task, err)
			return err
		}
		if err := s.robot.WriteRegister(ctx, reg.Init, 0); err != nil {
			s.fail(task, err)
			return err
		}
	}

	// Step 9: parallel sub-protocol special case.
	if actualCmd == models.CmdCoffeePlace {
		s.mu.Lock()
		task.Status = models.TaskCompleted
		s.chainedTaskID = nil
		s.mu.Unlock()
		if err := s.runParallelSubProtocol(ctx, task, firstCandidate); err != nil {
			return err
		}
		return nil
	}

	// Step 10: post device action.
	if task.PostDeviceAction != nil {
		if err := s.runDeviceAction(ctx, task, task.PostDeviceAction); err != nil {
			s.fail(task, err)
			return err
		}
	}

	// Step 11: pickup notification.
	if task.NotifyPickup != nil {
		np := task.NotifyPickup
		if err := s.pickup.NotifySlot(ctx, np.Zone, np.AssignedSlot, np.OrderNo, np.MenuCode); err != nil {
			log.Warn().Err(err).Str("order_no", np.OrderNo).Msg("pickup notify failed, continuing")
		}
	}

	// Step 12: complete and advance the chain.
	s.completeTask(task)
	return nil
}

func (s *Scheduler) completeTask(task *models.Task) {
	s.mu.Lock()
	task.Status = models.TaskCompleted
	if task.ChainedNextTaskID != nil {
		id := *task.ChainedNextTaskID
		s.chainedTaskID = &id
	} else {
		s.chainedTaskID = nil
	}
	s.mu.Unlock()

	log.Debug().Str("actor", "SCH").Str("event", "DONE").Int("task_id", task.TaskID).
		Int("cmd", task.CmdCode).Str("uuid", task.OrderUUID).Msg("task execution completed")

	if task.CmdCode == models.CmdHome {
		s.orders.UpdateStatus(task.OrderUUID, models.OrderCompleted)
	}
}

func (s *Scheduler) skipHome(task *models.Task) {
	s.mu.Lock()
	task.Status = models.TaskCompleted
	s.chainedTaskID = nil
	s.mu.Unlock()
	log.Debug().Str("uuid", task.OrderUUID).Msg("HOME skipped")
	s.orders.UpdateStatus(task.OrderUUID, models.OrderCompleted)
}

// fail marks task FAILED, clears the chain, and — unless the failure was an
// intentional mode change — marks the order FAILED and runs fail-safe
// (spec §7).
func (s *Scheduler) fail(task *models.Task, err error) {
	log.Error().Err(err).Str("actor", "SCH").Str("event", "ERROR").Str("uuid", task.OrderUUID).
		Int("task_id", task.TaskID).Int("cmd", task.CmdCode).Msg("task failed")
	s.mu.Lock()
	task.Status = models.TaskFailed
	s.chainedTaskID = nil
	s.mu.Unlock()

	var modeErr *ModeLeftAutoError
	if errors.As(err, &modeErr) {
		return
	}
	s.orders.UpdateStatus(task.OrderUUID, models.OrderFailed)
	s.failSafe(context.Background())
}

// failSafe is the uniform recovery action: MANUAL mode, clear the task
// list, clear the chain, stop all devices. Idempotent.
func (s *Scheduler) failSafe(ctx context.Context) {
	s.mu.Lock()
	s.tasks = nil
	s.chainedTaskID = nil
	s.mu.Unlock()

	s.device.StopAll(ctx)

	if s.mode.Get() == models.ModeAuto {
		if err := s.mode.Set(ctx, models.ModeManual); err != nil {
			log.Error().Err(err).Msg("fail-safe: failed to switch to MANUAL")
		}
	}
	log.Warn().Msg("fail-safe triggered")
}

// classifyWaitErr converts a cancelled-clock-sleep into ModeLeftAutoError
// when the cause was the mode leaving AUTO, vs. propagating the raw error
// (e.g. the outer ctx was shut down for process exit) otherwise.
func (s *Scheduler) classifyWaitErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if s.mode.Get() != models.ModeAuto {
		return &ModeLeftAutoError{Op: op}
	}
	return err
}

func (s *Scheduler) waitForInit(ctx context.Context, target int, timeout time.Duration) error {
	err := s.robot.WaitForInit(ctx, target, timeout)
	if err == nil {
		return nil
	}
	var robotTimeout *gateway.RobotTimeoutError
	if errors.As(err, &robotTimeout) {
		return err
	}
	return s.classifyWaitErr(err, "wait_for_init")
}

func (s *Scheduler) pollUntil(ctx context.Context, read func() (int, error), target int, timeout time.Duration) error {
	deadline := s.clock.Now().Add(timeout)
	for {
		select {
		case <-ctx.Done():
			return s.classifyWaitErr(ctx.Err(), "register poll")
		default:
		}
		v, err := read()
		if err != nil {
			return err
		}
		if v == target {
			return nil
		}
		if s.clock.Now().After(deadline) {
			return &gateway.RobotTimeoutError{Target: target, Timeout: timeout}
		}
		if err := s.clock.Sleep(ctx, dispatchPoll); err != nil {
			return s.classifyWaitErr(err, "register poll")
		}
	}
}

// runDeviceAction switches on action.Kind, per spec §4.4's device-action
// semantics and spec §9's "tagged variant, not dynamic dispatch" note.
func (s *Scheduler) runDeviceAction(ctx context.Context, task *models.Task, action *models.DeviceAction) error {
	switch action.Kind {
	case models.ActionCoffee:
		s.device.MakeCoffee(ctx, action.CoffeeProductID, action.PrechargeSecs)
		s.mu.Lock()
		s.coffeeMachineUsed = true
		s.mu.Unlock()
		return nil

	case models.ActionIceWater, models.ActionIceWaterSparkling:
		if err := s.device.DispenseIceWater(ctx, action.IceSecs, action.WaterSecs); err != nil {
			return err
		}
		if action.SparklingSecs > 0 {
			return s.device.DispenseSparkling(ctx, action.SparklingSecs)
		}
		return nil

	case models.ActionHotWater:
		// The close pulse is intentionally never sent here: the tap stays
		// latched open for the duration of the paired DONE task's sleep
		// (spec §9 Open Question, resolved as intentional).
		unit, addr := s.topology.Coils.DeviceUnit, s.topology.Coils.HotTrigger
		return s.io.WriteCoil(ctx, unit, addr, true)

	case models.ActionSyrup:
		return s.device.DispenseSyrup(ctx, action.SyrupID, action.SyrupSecs)

	case models.ActionSparkling:
		return s.device.DispenseSparkling(ctx, action.SparklingSecs)

	case models.ActionSleep:
		d := time.Duration(action.SleepSecs * float64(time.Second))
		if task.IsCoffeeWait {
			d += s.boilerCompensation()
		}
		if err := s.clock.Sleep(ctx, d); err != nil {
			return s.classifyWaitErr(err, "sleep")
		}
		return nil

	case models.ActionRinse:
		s.device.ExecuteRinse(ctx)
		s.mu.Lock()
		s.coffeeMachineUsed = false
		s.lastCoffeeTime = s.clock.Now()
		s.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("unknown device action kind %q", action.Kind)
	}
}

// boilerCompensation returns the idle-extension duration for
// boiler-cooling machines that have sat unused past the threshold (spec
// §4.4).
func (s *Scheduler) boilerCompensation() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.boilerCools || s.lastCoffeeTime.IsZero() {
		return 0
	}
	if s.clock.Now().Sub(s.lastCoffeeTime) > boilerIdleThreshold {
		return boilerIdleExtension
	}
	return 0
}

// acquirePickupSlot implements spec §4.7's two assignment strategies.
func (s *Scheduler) acquirePickupSlot(ctx context.Context) (int, error) {
	if s.pickupMode != "sensor" {
		s.mu.Lock()
		s.rotateCounter++
		slot := ((s.rotateCounter - 1) % s.topology.PickupSlots) + 1
		s.mu.Unlock()
		return slot, nil
	}

	for {
		select {
		case <-ctx.Done():
			return 0, s.classifyWaitErr(ctx.Err(), "pickup sensor wait")
		default:
		}
		occ, err := s.pickup.GetOccupancy(ctx, 1)
		if err != nil {
			return 0, err
		}
		for i, busy := range occ {
			if !busy {
				return i + 1, nil
			}
		}
		if err := s.clock.Sleep(ctx, pickupSensorPoll); err != nil {
			return 0, s.classifyWaitErr(err, "pickup sensor wait")
		}
	}
}

// cupSubProtocol drives the seven-step cup-dispense handshake of spec §4.5.
// It is entered right after CUP_MOVE's command byte has been sent (step 6
// of execute-one-task) and owns the rest of that task's completion.
func (s *Scheduler) cupSubProtocol(ctx context.Context, task *models.Task) error {
	reg := s.topology.Registers
	coils := s.topology.Coils

	// 1. Wait for the robot to signal it is in dispense position.
	if err := s.pollUntil(ctx, func() (int, error) { return s.robot.ReadRegister(ctx, reg.CupOn) }, 1, cupHandshakeTimeout); err != nil {
		return err
	}
	if err := s.robot.WriteRegister(ctx, reg.CupOn, 0); err != nil {
		return err
	}

	// 2. Pulse the dispense coil for the requested cup kind.
	cupKind := task.Params[reg.CupIdx]
	dispenseAddr := coils.CupHot
	if cupKind == int(models.CupIced) {
		dispenseAddr = coils.CupIced
	}
	if err := s.io.Pulse(ctx, coils.DeviceUnit, dispenseAddr, 1.0); err != nil {
		return err
	}

	// 3. Re-encode the cup index for the sensor stage (1/2 -> 3/4).
	sensorIdx := 3
	if cupKind == int(models.CupIced) {
		sensorIdx = 4
	}
	if err := s.robot.WriteRegister(ctx, reg.CupIdx, sensorIdx); err != nil {
		return err
	}

	// 4. Wait for the robot to arrive at the presence sensor.
	if err := s.pollUntil(ctx, func() (int, error) { return s.robot.ReadRegister(ctx, reg.CupMove) }, 1, cupHandshakeTimeout); err != nil {
		return err
	}
	if err := s.robot.WriteRegister(ctx, reg.CupMove, 0); err != nil {
		return err
	}

	// 5. Read the cup-presence coil and report the result to the robot.
	bits, err := s.io.ReadCoils(ctx, coils.SensorUnit, coils.CupPresence, 1)
	if err != nil {
		return err
	}
	present := len(bits) > 0 && bits[0]

	if !present {
		// 6. Failure path: tell the robot, let it finish its home-return
		// motion, mark the order COMPLETED (spec §9 Open Question), and
		// trigger fail-safe before surfacing the error.
		_ = s.robot.WriteRegister(ctx, reg.CupSensor, 2)
		_ = s.waitForInit(ctx, models.CmdCupMove+models.AckOffset, motionTimeout)
		s.orders.UpdateStatus(task.OrderUUID, models.OrderCompleted)
		s.failSafe(ctx)
		return &CupSensorFailureError{OrderUUID: task.OrderUUID}
	}

	if err := s.robot.WriteRegister(ctx, reg.CupSensor, 1); err != nil {
		return err
	}

	// 7. Success: wait for the usual motion ack.
	if err := s.waitForInit(ctx, models.CmdCupMove+models.AckOffset, motionTimeout); err != nil {
		return err
	}
	return s.robot.WriteRegister(ctx, reg.Init, 0)
}

// runParallelSubProtocol implements spec §4.6. The caller has already sent
// COFFEE_PLACE and observed its ack, and has already marked the coffee-move
// task COMPLETED; firstCandidate is the order FindParallelCandidate claimed
// as part of the original parallel-check (already removed from the queue
// and flipped to PROCESSING), so it is used directly rather than claimed
// again here.
func (s *Scheduler) runParallelSubProtocol(ctx context.Context, moveTask *models.Task, firstCandidate *models.Order) error {
	// 1. Fire the coffee extraction if the pre-action variant (product_id
	// == 1) did not already start it before the robot moved.
	if moveTask.PreDeviceAction == nil && moveTask.PostDeviceAction != nil && moveTask.PostDeviceAction.Kind == models.ActionCoffee {
		_ = s.runDeviceAction(ctx, moveTask, moveTask.PostDeviceAction)
	}
	coffeeStart := s.clock.Now()

	if moveTask.ChainedNextTaskID == nil {
		return fmt.Errorf("coffee move task %d has no chained COFFEE_DONE", moveTask.TaskID)
	}
	doneTask := s.findTask(*moveTask.ChainedNextTaskID)
	if doneTask == nil {
		return fmt.Errorf("chained coffee done task %d not found", *moveTask.ChainedNextTaskID)
	}
	var baseDuration time.Duration
	if doneTask.PreDeviceAction != nil {
		baseDuration = time.Duration(doneTask.PreDeviceAction.SleepSecs * float64(time.Second))
	}
	duration := baseDuration + s.boilerCompensation()

	candidate, haveCandidate := firstCandidate, firstCandidate != nil
	for haveCandidate {
		remaining := duration - s.clock.Now().Sub(coffeeStart)
		if remaining < parallelMinRemaining {
			s.orders.RestoreWaiting(candidate.UUID, true)
			break
		}

		subtasks, err := s.planner.Plan(candidate)
		if err != nil || len(subtasks) == 0 {
			if err != nil {
				log.Warn().Str("uuid", candidate.UUID).Err(err).Msg("parallel candidate plan rejected")
			}
			s.orders.RestoreWaiting(candidate.UUID, true)
			break
		}

		ptrs := s.appendTasks(subtasks)
		failed := false
		for _, st := range ptrs {
			if err := s.executeTaskBody(ctx, st, true); err != nil {
				failed = true
				break
			}
		}
		if failed {
			s.orders.RestoreWaiting(candidate.UUID, true)
			break
		}

		candidate, haveCandidate = s.orders.FindParallelCandidate()
	}

	remaining := duration - s.clock.Now().Sub(coffeeStart)
	if remaining > 0 {
		if err := s.clock.Sleep(ctx, remaining); err != nil {
			werr := s.classifyWaitErr(err, "coffee wait")
			s.fail(moveTask, werr)
			return werr
		}
	}

	reg := s.topology.Registers
	if v, err := s.robot.ReadRegister(ctx, reg.Init); err == nil && v != 0 {
		_ = s.robot.WriteRegister(ctx, reg.Init, 0)
	}
	if err := s.robot.SendCommand(ctx, models.CmdCoffeePick); err != nil {
		s.fail(moveTask, err)
		return err
	}
	if err := s.waitForInit(ctx, models.CmdCoffeePick+models.AckOffset, motionTimeout); err != nil {
		s.fail(moveTask, err)
		return err
	}

	s.mu.Lock()
	s.coffeeMachineUsed = true
	s.mu.Unlock()
	s.device.ExecuteRinse(ctx)
	s.mu.Lock()
	s.lastCoffeeTime = s.clock.Now()
	s.mu.Unlock()

	// Mark COFFEE_DONE COMPLETED without executing it: its sleep and rinse
	// already happened above, interleaved with the candidate order's tasks.
	s.mu.Lock()
	doneTask.Status = models.TaskCompleted
	s.chainedTaskID = nil
	s.mu.Unlock()

	s.orders.ClearParallelSkips()
	return nil
}

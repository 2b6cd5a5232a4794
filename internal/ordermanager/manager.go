// Package ordermanager holds the active order map and FIFO queue, and
// drives the plan-and-submit loop described in spec §4.8. The queue holds
// UUIDs, not Order objects, so cancellation is O(1) against the shared map
// (spec §9 "Concurrent queue").
package ordermanager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/barbrew/control-plane/internal/mode"
	"github.com/barbrew/control-plane/pkg/contracts"
	"github.com/barbrew/control-plane/pkg/models"
)

// Planner plans an order into a task DAG. Satisfied by internal/planner.Planner.
type Planner interface {
	Plan(order *models.Order) ([]models.Task, error)
}

// Scheduler accepts a planned order for execution. Satisfied by
// internal/scheduler.Scheduler. Kept as an explicit typed interface rather
// than an ambient closure, per spec §9's callback design note.
type Scheduler interface {
	Submit(order *models.Order, tasks []models.Task)
	CancelOrderTasks(orderUUID string)
}

// Manager owns the active order map, the FIFO of pending UUIDs, and the
// plan-loop goroutine that feeds the scheduler.
type Manager struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	queue  []string

	recipes   contracts.RecipeStore
	planner   Planner
	scheduler Scheduler
	mode      *mode.Controller
	clock     contracts.Clock
	sink      contracts.EventSink

	seq int64
}

// New builds a Manager. scheduler and planner are wired in after
// construction in main.go to break the import cycle between ordermanager
// and scheduler (the scheduler's constructor also needs a Manager callback).
func New(recipes contracts.RecipeStore, modeCtl *mode.Controller, clock contracts.Clock, sink contracts.EventSink) *Manager {
	return &Manager{
		orders:  make(map[string]*models.Order),
		recipes: recipes,
		mode:    modeCtl,
		clock:   clock,
		sink:    sink,
	}
}

// Wire injects the planner and scheduler after both sides exist.
func (m *Manager) Wire(planner Planner, scheduler Scheduler) {
	m.planner = planner
	m.scheduler = scheduler
}

// Add enqueues a new order for menuCode, returning its assigned UUID. The
// UUID is a monotonic millisecond timestamp string per spec §4.8, disambiguated
// by a per-process sequence counter for orders created within the same
// millisecond.
func (m *Manager) Add(menuCode int, orderNo string) *models.Order {
	now := m.clock.Now()
	seq := atomic.AddInt64(&m.seq, 1)
	uuid := fmt.Sprintf("%d-%d", now.UnixMilli(), seq)

	menuName := ""
	if r, ok := m.recipes.Get(menuCode); ok {
		menuName = r.MenuName
	}

	order := &models.Order{
		UUID:      uuid,
		OrderNo:   orderNo,
		MenuCode:  menuCode,
		MenuName:  menuName,
		Status:    models.OrderWaiting,
		CreatedAt: now,
	}

	m.mu.Lock()
	m.orders[uuid] = order
	m.queue = append(m.queue, uuid)
	m.mu.Unlock()

	log.Info().Str("uuid", uuid).Str("order_no", orderNo).Int("menu_code", menuCode).Msg("order added")
	m.publish("order_status", order)
	return order
}

// Get returns the order for uuid, if still active.
func (m *Manager) Get(uuid string) (*models.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[uuid]
	return o, ok
}

// List returns a snapshot of every active order.
func (m *Manager) List() []*models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out
}

// Cancel transitions uuid to CANCELLED and removes it from the active map.
// Cancelling an order that is already terminal (or unknown) is a no-op
// returning false, per spec §8 idempotence.
func (m *Manager) Cancel(uuid string) bool {
	m.mu.Lock()
	order, ok := m.orders[uuid]
	if !ok || isTerminal(order.Status) {
		m.mu.Unlock()
		return false
	}
	order.Status = models.OrderCancelled
	m.removeFromQueueLocked(uuid)
	delete(m.orders, uuid)
	m.mu.Unlock()

	if m.scheduler != nil {
		m.scheduler.CancelOrderTasks(uuid)
	}

	log.Info().Str("uuid", uuid).Msg("order cancelled")
	m.publish("order_status", order)
	return true
}

// UpdateStatus is the scheduler's callback into the order manager: it
// stamps completed_at on COMPLETED and removes terminal orders from the
// active map, per spec §4.8 / §3.
func (m *Manager) UpdateStatus(uuid string, status models.OrderStatus) {
	m.mu.Lock()
	order, ok := m.orders[uuid]
	if !ok {
		m.mu.Unlock()
		return
	}
	order.Status = status
	if status == models.OrderCompleted {
		now := m.clock.Now()
		order.CompletedAt = &now
	}
	terminal := isTerminal(status)
	if terminal {
		delete(m.orders, uuid)
	}
	m.mu.Unlock()

	log.Info().Str("uuid", uuid).Str("status", string(status)).Msg("order status updated")
	m.publish("order_status", order)
}

// Run drives the plan loop until ctx is cancelled, per spec §4.8: while
// MANUAL, sleep without dequeuing; while AUTO, plan and submit the head of
// the queue, dropping it regardless of planning outcome (a BadRequest
// recipe leaves the order WAITING but off the queue; only cancel or
// restart can remove it after that).
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if m.mode.Get() != models.ModeAuto {
			if err := m.clock.Sleep(ctx, 200*time.Millisecond); err != nil {
				return
			}
			continue
		}

		uuid, ok := m.peekQueue()
		if !ok {
			if err := m.clock.Sleep(ctx, 100*time.Millisecond); err != nil {
				return
			}
			continue
		}

		m.mu.Lock()
		order, exists := m.orders[uuid]
		m.mu.Unlock()

		if !exists || order.Status != models.OrderWaiting {
			m.popQueue()
			continue
		}

		tasks, err := m.planner.Plan(order)
		if err != nil || len(tasks) == 0 {
			if err != nil {
				log.Warn().Str("uuid", uuid).Err(err).Msg("order plan rejected, staying WAITING")
			}
			m.popQueue()
			continue
		}

		m.popQueue()
		order.Status = models.OrderProcessing
		m.scheduler.Submit(order, tasks)
	}
}

// FindParallelCandidate returns the earliest-created WAITING order whose
// recipe has no coffee and whose ParallelSkip flag is clear, atomically
// flipping it to PROCESSING and removing it from the plan-loop queue so it
// is never double-planned (spec §4.6 check_parallel_opportunity). The
// caller (the scheduler) owns planning and executing it from here on.
func (m *Manager) FindParallelCandidate() (*models.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *models.Order
	for _, uuid := range m.queue {
		order, ok := m.orders[uuid]
		if !ok || order.Status != models.OrderWaiting || order.ParallelSkip {
			continue
		}
		recipe, ok := m.recipes.Get(order.MenuCode)
		if !ok || recipe.HasCoffee() {
			continue
		}
		if best == nil || order.CreatedAt.Before(best.CreatedAt) {
			best = order
		}
	}
	if best == nil {
		return nil, false
	}

	best.Status = models.OrderProcessing
	m.removeFromQueueLocked(best.UUID)
	return best, true
}

// RestoreWaiting puts uuid back to WAITING after a failed parallel attempt,
// optionally marking ParallelSkip so this opportunity pass does not retry
// it (spec §4.6 step 2c).
func (m *Manager) RestoreWaiting(uuid string, skip bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[uuid]
	if !ok {
		return
	}
	order.Status = models.OrderWaiting
	order.ParallelSkip = skip
	m.queue = append(m.queue, uuid)
}

// ClearParallelSkips resets ParallelSkip on every active order, run once a
// parallel interleave session ends (spec §4.6 step 6).
func (m *Manager) ClearParallelSkips() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		order.ParallelSkip = false
	}
}

func (m *Manager) publish(evtType string, order *models.Order) {
	if m.sink == nil {
		return
	}
	m.sink.Publish(contracts.OrderEvent{
		Type:      evtType,
		OrderUUID: order.UUID,
		OrderNo:   order.OrderNo,
		Status:    order.Status,
		Timestamp: m.clock.Now(),
	})
}

func (m *Manager) peekQueue() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return "", false
	}
	return m.queue[0], true
}

func (m *Manager) popQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return
	}
	m.queue = m.queue[1:]
}

func (m *Manager) removeFromQueueLocked(uuid string) {
	for i, u := range m.queue {
		if u == uuid {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func isTerminal(s models.OrderStatus) bool {
	return s == models.OrderCompleted || s == models.OrderCancelled || s == models.OrderFailed
}

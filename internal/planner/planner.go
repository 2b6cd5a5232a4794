// Package planner turns a (recipe, order) pair into an ordered task DAG,
// per spec §4.3: a linear chain of stages, each added only when the recipe
// calls for it, with atomic move/done pairs bound by ChainedNextTaskID.
package planner

import (
	"sync/atomic"

	"github.com/barbrew/control-plane/pkg/contracts"
	"github.com/barbrew/control-plane/pkg/models"
)

// coffeePrechargeSecs is the short precharge time attached to both the
// pre- and post-action coffee variants; the real wait lives in the paired
// COFFEE_DONE's sleep.
const coffeePrechargeSecs = 0.5

// Planner converts orders into task DAGs against a recipe store. nextTaskID
// is monotonic across the planner's whole lifetime, not per order: the
// scheduler matches tasks by bare TaskID against its shared task list with
// no OrderUUID filter, so two orders planned back to back must never land
// on the same id.
type Planner struct {
	recipes    contracts.RecipeStore
	nextTaskID uint64
}

// New builds a Planner reading menu definitions from recipes.
func New(recipes contracts.RecipeStore) *Planner {
	return &Planner{recipes: recipes}
}

// Plan builds the task list for order, whose MenuCode is looked up against
// the recipe store. An unknown menu code or an invalid recipe yields no
// tasks and a *models.PlannerBadRequestError; the order manager's plan loop
// then drops the order from its queue and leaves it WAITING.
func (p *Planner) Plan(order *models.Order) ([]models.Task, error) {
	recipe, ok := p.recipes.Get(order.MenuCode)
	if !ok {
		return nil, &models.PlannerBadRequestError{Reason: "unknown menu code"}
	}
	if err := recipe.Validate(); err != nil {
		return nil, err
	}

	b := &builder{uuid: order.UUID, orderNo: order.OrderNo, menuName: recipe.MenuName, counter: &p.nextTaskID}

	// 1. Cup — always, not chained; cup-dispense is its own sub-protocol.
	cup := b.add(models.CmdCupMove, map[int]int{models.RegCupIdx: int(recipe.CupNum)})

	prev := cup

	// 2. Ice / Water / Sparkling.
	if recipe.IceExtTime > 0 || recipe.WaterExtTime > 0 || recipe.SparklingExtTime > 0 {
		wiMove := b.addDependent(models.CmdWIMove, nil, prev.TaskID)
		wiMove.PostDeviceAction = &models.DeviceAction{
			Kind:          models.ActionIceWaterSparkling,
			IceSecs:       recipe.IceExtTime,
			WaterSecs:     recipe.WaterExtTime,
			SparklingSecs: recipe.SparklingExtTime,
		}
		wiDone := b.addDependent(models.CmdWIDone, nil, wiMove.TaskID)
		wiDone.PreDeviceAction = &models.DeviceAction{Kind: models.ActionSleep, SleepSecs: maxOf(recipe.IceExtTime, recipe.WaterExtTime, recipe.SparklingExtTime)}
		b.chain(wiMove, wiDone)
		prev = wiDone
	}

	// 3. Hot water.
	if recipe.HotwaterExtTime > 0 {
		hotMove := b.addDependent(models.CmdHotMove, nil, prev.TaskID)
		hotMove.PostDeviceAction = &models.DeviceAction{Kind: models.ActionHotWater, HotWaterSecs: recipe.HotwaterExtTime}
		hotDone := b.addDependent(models.CmdHotDone, nil, hotMove.TaskID)
		hotDone.PreDeviceAction = &models.DeviceAction{Kind: models.ActionSleep, SleepSecs: recipe.HotwaterExtTime}
		b.chain(hotMove, hotDone)
		prev = hotDone
	}

	// 4. Coffee.
	if recipe.CoffeeExtTime > 0 {
		coffeeMove := b.addDependent(models.CmdCoffeeMove, nil, prev.TaskID)
		coffeeMove.ParallelCheckPoint = true
		coffeeAction := &models.DeviceAction{
			Kind:            models.ActionCoffee,
			CoffeeProductID: recipe.CoffeeProductID,
			PrechargeSecs:   coffeePrechargeSecs,
		}
		if recipe.CoffeeProductID == 1 {
			coffeeMove.PreDeviceAction = coffeeAction
		} else {
			coffeeMove.PostDeviceAction = coffeeAction
		}

		coffeeDone := b.addDependent(models.CmdCoffeeDone, nil, coffeeMove.TaskID)
		coffeeDone.IsCoffeeWait = true
		coffeeDone.PreDeviceAction = &models.DeviceAction{Kind: models.ActionSleep, SleepSecs: recipe.CoffeeExtTime}
		coffeeDone.PostDeviceAction = &models.DeviceAction{Kind: models.ActionRinse}
		b.chain(coffeeMove, coffeeDone)
		prev = coffeeDone
	}

	// 5. Syrups, serial, each an atomic move/done pair.
	for _, syr := range recipe.Syrups {
		move := b.addDependent(models.CmdSyrupMove, map[int]int{models.RegSyrupIdx: syr.ID}, prev.TaskID)
		move.PostDeviceAction = &models.DeviceAction{Kind: models.ActionSyrup, SyrupID: syr.ID, SyrupSecs: syr.Seconds}
		done := b.addDependent(models.CmdSyrupDone, nil, move.TaskID)
		b.chain(move, done)
		prev = done
	}

	// 6. Serve.
	pickupMove := b.addDependent(models.CmdPickupMove, nil, prev.TaskID)
	pickupPlace := b.addDependent(models.CmdPickupPlace, nil, pickupMove.TaskID)
	pickupPlace.NotifyPickup = &models.PickupTarget{Zone: 1, OrderNo: order.OrderNo, MenuCode: order.MenuCode}
	b.chain(pickupMove, pickupPlace)

	home := b.addDependent(models.CmdHome, nil, pickupPlace.TaskID)
	home.Skippable = true

	out := make([]models.Task, len(b.tasks))
	for i, t := range b.tasks {
		out[i] = *t
	}
	return out, nil
}

// builder accumulates tasks with task ids drawn from the planner's shared
// counter and stamps the logging fields spec §4.3 requires on every task.
// Tasks are held as pointers while building so earlier stages can still
// mutate/chain a task after later stages have been appended, without
// slice-growth invalidating previously returned pointers.
type builder struct {
	uuid     string
	orderNo  string
	menuName string
	counter  *uint64
	tasks    []*models.Task
}

func (b *builder) add(cmd int, params map[int]int) *models.Task {
	id := atomic.AddUint64(b.counter, 1)
	t := &models.Task{
		TaskID:    int(id),
		OrderUUID: b.uuid,
		MenuName:  b.menuName,
		OrderNo:   b.orderNo,
		CmdCode:   cmd,
		Params:    params,
		Status:    models.TaskPending,
	}
	b.tasks = append(b.tasks, t)
	return t
}

func (b *builder) addDependent(cmd int, params map[int]int, dependsOn int) *models.Task {
	t := b.add(cmd, params)
	t.Dependencies = []int{dependsOn}
	return t
}

// chain binds from's successor to to, per spec §3/§9: after from COMPLETEs,
// only to is eligible to run next.
func (b *builder) chain(from, to *models.Task) {
	id := to.TaskID
	from.ChainedNextTaskID = &id
}

func maxOf(values ...float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

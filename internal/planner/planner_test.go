package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barbrew/control-plane/pkg/models"
)

type fakeRecipes struct {
	byCode map[int]models.Recipe
}

func (f *fakeRecipes) Get(menuCode int) (models.Recipe, bool) {
	r, ok := f.byCode[menuCode]
	return r, ok
}

func (f *fakeRecipes) All() []models.Recipe {
	out := make([]models.Recipe, 0, len(f.byCode))
	for _, r := range f.byCode {
		out = append(out, r)
	}
	return out
}

func newOrder(menuCode int) *models.Order {
	return &models.Order{UUID: "u-1", OrderNo: "A1", MenuCode: menuCode}
}

func byCmd(tasks []models.Task, cmd int) *models.Task {
	for i := range tasks {
		if tasks[i].CmdCode == cmd {
			return &tasks[i]
		}
	}
	return nil
}

func TestPlan_UnknownMenuCodeReturnsBadRequest(t *testing.T) {
	p := New(&fakeRecipes{byCode: map[int]models.Recipe{}})

	_, err := p.Plan(newOrder(99))

	require.Error(t, err)
	var badReq *models.PlannerBadRequestError
	require.ErrorAs(t, err, &badReq)
}

func TestPlan_InvalidRecipeReturnsValidationError(t *testing.T) {
	p := New(&fakeRecipes{byCode: map[int]models.Recipe{
		1: {MenuCode: 1, CupNum: models.CupKind(7)},
	}})

	_, err := p.Plan(newOrder(1))

	require.Error(t, err)
}

// S1: iced americano — cup, hot water, coffee, serve. No ice/water/sparkling
// station, no syrups.
func TestPlan_IcedAmericanoHasCupHotWaterCoffeeAndServeOnly(t *testing.T) {
	p := New(&fakeRecipes{byCode: map[int]models.Recipe{
		1: {
			MenuCode:        1,
			MenuName:        "Iced Americano",
			CupNum:          models.CupIced,
			HotwaterExtTime: 20,
			CoffeeExtTime:   25,
			CoffeeProductID: 1,
		},
	}})

	tasks, err := p.Plan(newOrder(1))
	require.NoError(t, err)

	assert.Nil(t, byCmd(tasks, models.CmdWIMove), "no ice/water station configured")
	assert.NotNil(t, byCmd(tasks, models.CmdHotMove))
	assert.NotNil(t, byCmd(tasks, models.CmdCoffeeMove))
	assert.Nil(t, byCmd(tasks, models.CmdSyrupMove), "no syrups configured")
	assert.NotNil(t, byCmd(tasks, models.CmdPickupMove))
	assert.NotNil(t, byCmd(tasks, models.CmdHome))
}

func TestPlan_CupTaskAlwaysFirstAndCarriesCupIndex(t *testing.T) {
	p := New(&fakeRecipes{byCode: map[int]models.Recipe{
		1: {MenuCode: 1, CupNum: models.CupHot, CoffeeExtTime: 10, CoffeeProductID: 1},
	}})

	tasks, err := p.Plan(newOrder(1))
	require.NoError(t, err)

	require.NotEmpty(t, tasks)
	assert.Equal(t, models.CmdCupMove, tasks[0].CmdCode)
	assert.Equal(t, int(models.CupHot), tasks[0].Params[models.RegCupIdx])
	assert.Nil(t, tasks[0].Dependencies, "cup task has no dependency, it isn't chained into")
}

func TestPlan_IceWaterSparklingStageChainsMoveToDoneAndSleepsForLongestDuration(t *testing.T) {
	p := New(&fakeRecipes{byCode: map[int]models.Recipe{
		1: {
			MenuCode:         1,
			CupNum:           models.CupIced,
			IceExtTime:       3,
			WaterExtTime:     8,
			SparklingExtTime: 0,
		},
	}})

	tasks, err := p.Plan(newOrder(1))
	require.NoError(t, err)

	move := byCmd(tasks, models.CmdWIMove)
	done := byCmd(tasks, models.CmdWIDone)
	require.NotNil(t, move)
	require.NotNil(t, done)

	require.NotNil(t, move.ChainedNextTaskID)
	assert.Equal(t, done.TaskID, *move.ChainedNextTaskID)

	require.NotNil(t, move.PostDeviceAction)
	assert.Equal(t, models.ActionIceWaterSparkling, move.PostDeviceAction.Kind)
	assert.Equal(t, 3.0, move.PostDeviceAction.IceSecs)
	assert.Equal(t, 8.0, move.PostDeviceAction.WaterSecs)

	require.NotNil(t, done.PreDeviceAction)
	assert.Equal(t, 8.0, done.PreDeviceAction.SleepSecs, "sleep is the max of the three durations")
}

func TestPlan_CoffeeProductOneIsPreAction_OthersArePostAction(t *testing.T) {
	p := New(&fakeRecipes{byCode: map[int]models.Recipe{
		1: {MenuCode: 1, CupNum: models.CupHot, CoffeeExtTime: 25, CoffeeProductID: 1},
		2: {MenuCode: 2, CupNum: models.CupHot, CoffeeExtTime: 25, CoffeeProductID: 2},
	}})

	black, err := p.Plan(newOrder(1))
	require.NoError(t, err)
	blackMove := byCmd(black, models.CmdCoffeeMove)
	require.NotNil(t, blackMove.PreDeviceAction, "product 1 (black) precharges before move")
	assert.Nil(t, blackMove.PostDeviceAction)

	milk, err := p.Plan(&models.Order{UUID: "u-2", OrderNo: "A2", MenuCode: 2})
	require.NoError(t, err)
	milkMove := byCmd(milk, models.CmdCoffeeMove)
	require.NotNil(t, milkMove.PostDeviceAction, "non-1 product brews after move/arrival")
	assert.Nil(t, milkMove.PreDeviceAction)
}

// S2/S3: the coffee move is the parallel interleave check-point, and the
// paired DONE task is the one the scheduler waits on during coffee idle time.
func TestPlan_CoffeeMoveIsParallelCheckPointAndDoneWaitsWithRinse(t *testing.T) {
	p := New(&fakeRecipes{byCode: map[int]models.Recipe{
		1: {MenuCode: 1, CupNum: models.CupHot, CoffeeExtTime: 25, CoffeeProductID: 2},
	}})

	tasks, err := p.Plan(newOrder(1))
	require.NoError(t, err)

	move := byCmd(tasks, models.CmdCoffeeMove)
	done := byCmd(tasks, models.CmdCoffeeDone)
	require.NotNil(t, move)
	require.NotNil(t, done)

	assert.True(t, move.ParallelCheckPoint)
	assert.True(t, done.IsCoffeeWait)
	require.NotNil(t, done.PreDeviceAction)
	assert.Equal(t, 25.0, done.PreDeviceAction.SleepSecs)
	require.NotNil(t, done.PostDeviceAction)
	assert.Equal(t, models.ActionRinse, done.PostDeviceAction.Kind)
}

func TestPlan_SkipsStationsWithZeroDuration(t *testing.T) {
	p := New(&fakeRecipes{byCode: map[int]models.Recipe{
		1: {MenuCode: 1, CupNum: models.CupHot},
	}})

	tasks, err := p.Plan(newOrder(1))
	require.NoError(t, err)

	assert.Nil(t, byCmd(tasks, models.CmdWIMove))
	assert.Nil(t, byCmd(tasks, models.CmdHotMove))
	assert.Nil(t, byCmd(tasks, models.CmdCoffeeMove))
	assert.Nil(t, byCmd(tasks, models.CmdSyrupMove))
	assert.NotNil(t, byCmd(tasks, models.CmdPickupMove), "serve stage always runs")
}

func TestPlan_SyrupsAddOneChainedMoveDonePairEach(t *testing.T) {
	p := New(&fakeRecipes{byCode: map[int]models.Recipe{
		1: {
			MenuCode: 1,
			CupNum:   models.CupHot,
			Syrups: []models.Syrup{
				{ID: 2, Seconds: 1.5},
				{ID: 5, Seconds: 2.0},
			},
		},
	}})

	tasks, err := p.Plan(newOrder(1))
	require.NoError(t, err)

	var moves, dones []models.Task
	for _, task := range tasks {
		if task.CmdCode == models.CmdSyrupMove {
			moves = append(moves, task)
		}
		if task.CmdCode == models.CmdSyrupDone {
			dones = append(dones, task)
		}
	}
	require.Len(t, moves, 2)
	require.Len(t, dones, 2)

	assert.Equal(t, 2, moves[0].Params[models.RegSyrupIdx])
	assert.Equal(t, 5, moves[1].Params[models.RegSyrupIdx])
	require.NotNil(t, moves[0].ChainedNextTaskID)
	assert.Equal(t, dones[0].TaskID, *moves[0].ChainedNextTaskID)
	require.NotNil(t, moves[1].ChainedNextTaskID)
	assert.Equal(t, dones[1].TaskID, *moves[1].ChainedNextTaskID)
}

func TestPlan_ServeStageChainsPickupMoveToPlaceAndCarriesNotifyTarget(t *testing.T) {
	p := New(&fakeRecipes{byCode: map[int]models.Recipe{
		1: {MenuCode: 1, CupNum: models.CupHot},
	}})

	order := &models.Order{UUID: "u-9", OrderNo: "B7", MenuCode: 1}
	tasks, err := p.Plan(order)
	require.NoError(t, err)

	move := byCmd(tasks, models.CmdPickupMove)
	place := byCmd(tasks, models.CmdPickupPlace)
	require.NotNil(t, move)
	require.NotNil(t, place)

	require.NotNil(t, move.ChainedNextTaskID)
	assert.Equal(t, place.TaskID, *move.ChainedNextTaskID)

	require.NotNil(t, place.NotifyPickup)
	assert.Equal(t, "B7", place.NotifyPickup.OrderNo)
	assert.Equal(t, 1, place.NotifyPickup.MenuCode)
}

func TestPlan_HomeTaskIsLastAndSkippable(t *testing.T) {
	p := New(&fakeRecipes{byCode: map[int]models.Recipe{
		1: {MenuCode: 1, CupNum: models.CupHot},
	}})

	tasks, err := p.Plan(newOrder(1))
	require.NoError(t, err)

	last := tasks[len(tasks)-1]
	assert.Equal(t, models.CmdHome, last.CmdCode)
	assert.True(t, last.Skippable)
}

func TestPlan_EveryTaskCarriesOrderIdentity(t *testing.T) {
	p := New(&fakeRecipes{byCode: map[int]models.Recipe{
		1: {MenuCode: 1, MenuName: "Hot Latte", CupNum: models.CupHot, CoffeeExtTime: 20, CoffeeProductID: 2},
	}})

	order := &models.Order{UUID: "u-42", OrderNo: "C3", MenuCode: 1}
	tasks, err := p.Plan(order)
	require.NoError(t, err)

	for _, task := range tasks {
		assert.Equal(t, "u-42", task.OrderUUID)
		assert.Equal(t, "C3", task.OrderNo)
		assert.Equal(t, "Hot Latte", task.MenuName)
		assert.Equal(t, models.TaskPending, task.Status)
	}
}

func TestPlan_TaskIDsAreMonotonicAcrossOrders(t *testing.T) {
	p := New(&fakeRecipes{byCode: map[int]models.Recipe{
		1: {MenuCode: 1, CupNum: models.CupHot, HotwaterExtTime: 5, CoffeeExtTime: 20, CoffeeProductID: 2},
	}})

	first, err := p.Plan(newOrder(1))
	require.NoError(t, err)
	second, err := p.Plan(newOrder(1))
	require.NoError(t, err)

	seen := make(map[int]bool, len(first)+len(second))
	for _, task := range append(first, second...) {
		assert.False(t, seen[task.TaskID], "task id %d reused across orders", task.TaskID)
		seen[task.TaskID] = true
	}
	for _, task := range second {
		assert.Greater(t, task.TaskID, len(first),
			"second order's task ids must continue past the first order's, not restart at 1")
	}
}

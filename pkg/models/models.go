// Package models holds the shared data types for the beverage-bar control
// plane: recipes, orders, the task DAG a recipe plans into, and the
// process-wide system mode. These types are the contract between the
// planner, the order manager, the scheduler, and the HTTP shell.
package models

import "time"

// ── Recipe ───────────────────────────────────────────────────

// CupKind selects which cup the robot dispenses.
type CupKind int

const (
	CupHot  CupKind = 1
	CupIced CupKind = 2
)

// Syrup is one flavor pump station with a pour duration.
type Syrup struct {
	ID      int     `json:"id" yaml:"id"` // 1..8
	Seconds float64 `json:"time_seconds" yaml:"time_seconds"`
}

// Recipe is a menu definition, keyed by MenuCode. Station durations of 0
// mean "skip this station". CoffeeProductID 1 is black/grind-ahead;
// anything else is milk/post-arrival.
type Recipe struct {
	MenuCode         int     `json:"menu_code"`
	MenuName         string  `json:"menu_name"`
	CupNum           CupKind `json:"cup_num"`
	IceExtTime       float64 `json:"ice_ext_time"`
	WaterExtTime     float64 `json:"water_ext_time"`
	SparklingExtTime float64 `json:"sparkling_ext_time"`
	HotwaterExtTime  float64 `json:"hotwater_ext_time"`
	CoffeeExtTime    float64 `json:"coffee_ext_time"`
	CoffeeProductID  int     `json:"coffee_product_id"`
	Syrups           []Syrup `json:"syrups"`
}

// HasCoffee reports whether this recipe pulls an espresso shot.
func (r Recipe) HasCoffee() bool { return r.CoffeeExtTime > 0 }

// Validate enforces the §3 Recipe invariants.
func (r Recipe) Validate() error {
	if r.CupNum != CupHot && r.CupNum != CupIced {
		return &PlannerBadRequestError{Reason: "cup_num must be 1 (hot) or 2 (iced)"}
	}
	durations := []float64{r.IceExtTime, r.WaterExtTime, r.SparklingExtTime, r.HotwaterExtTime, r.CoffeeExtTime}
	for _, d := range durations {
		if d < 0 {
			return &PlannerBadRequestError{Reason: "station durations must be non-negative"}
		}
	}
	for _, s := range r.Syrups {
		if s.ID < 1 || s.ID > 8 {
			return &PlannerBadRequestError{Reason: "syrup id must be in 1..8"}
		}
		if s.Seconds < 0 {
			return &PlannerBadRequestError{Reason: "syrup time must be non-negative"}
		}
	}
	return nil
}

// PlannerBadRequestError marks an order whose recipe the planner refused,
// per spec §7: planning returns an empty task list, the order stays WAITING.
type PlannerBadRequestError struct {
	Reason string
}

func (e *PlannerBadRequestError) Error() string { return "bad order: " + e.Reason }

// ── Order ────────────────────────────────────────────────────

type OrderStatus string

const (
	OrderWaiting    OrderStatus = "WAITING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderFailed     OrderStatus = "FAILED"
)

// Order is a runtime work item: one cup requested against a menu code.
type Order struct {
	UUID         string      `json:"uuid"`
	OrderNo      string      `json:"order_no"`
	MenuCode     int         `json:"menu_code"`
	MenuName     string      `json:"menu_name"`
	Status       OrderStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ParallelSkip bool        `json:"-"` // transient: this opportunity pass already tried and lost this order
}

// Clone returns a value copy of o, with its own copy of CompletedAt.
// Nothing in the scheduler calls it: the parallel sub-protocol works from
// the coffee-move task and takes no snapshot of the paused coffee order.
func (o *Order) Clone() *Order {
	c := *o
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ── Task ─────────────────────────────────────────────────────

type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

// DeviceActionKind tags which variant of DeviceAction is populated.
type DeviceActionKind string

const (
	ActionCoffee            DeviceActionKind = "coffee"
	ActionIceWater          DeviceActionKind = "ice_water"
	ActionIceWaterSparkling DeviceActionKind = "ice_water_sparkling"
	ActionHotWater          DeviceActionKind = "hot_water"
	ActionSyrup             DeviceActionKind = "syrup"
	ActionSparkling         DeviceActionKind = "sparkling"
	ActionSleep             DeviceActionKind = "sleep"
	ActionRinse             DeviceActionKind = "rinse"
)

// DeviceAction is a tagged union of the side-effects a task may carry,
// matching spec §9's "dynamic dispatch over pre/post device actions"
// design note: the executor switches on Kind rather than calling an
// interface method, so the variant set stays closed and inspectable.
type DeviceAction struct {
	Kind DeviceActionKind

	// Coffee
	CoffeeProductID int
	PrechargeSecs   float64

	// IceWater / IceWaterSparkling
	IceSecs       float64
	WaterSecs     float64
	SparklingSecs float64

	// HotWater
	HotWaterSecs float64

	// Syrup
	SyrupID   int
	SyrupSecs float64

	// Sleep
	SleepSecs float64
}

// PickupTarget is the destination descriptor carried by the PICKUP_PLACE
// task; AssignedSlot is filled in by the scheduler at dispatch time.
type PickupTarget struct {
	Zone         int
	OrderNo      string
	MenuCode     int
	AssignedSlot int
}

// Task is one node in an order's execution graph.
type Task struct {
	TaskID      int
	OrderUUID   string
	MenuName    string
	OrderNo     string
	CmdCode     int
	Params      map[int]int // register address -> value
	Dependencies []int
	Status      TaskStatus

	Skippable bool

	// ChainedNextTaskID, when set, binds this task's successor: after this
	// task COMPLETEs only that task is eligible to run next, bypassing the
	// one-task-at-a-time-in-arrival-order discipline (spec §3, §9).
	ChainedNextTaskID *int

	PreDeviceAction  *DeviceAction
	PostDeviceAction *DeviceAction

	NotifyPickup *PickupTarget

	ParallelCheckPoint bool
	IsCoffeeWait       bool
}

// ── System mode ──────────────────────────────────────────────

type SystemMode int

const (
	ModeManual SystemMode = 0
	ModeAuto   SystemMode = 1
)

func (m SystemMode) String() string {
	if m == ModeAuto {
		return "AUTO"
	}
	return "MANUAL"
}

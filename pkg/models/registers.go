package models

// Register plane addresses. The register space is an opaque integer-keyed
// map as far as the robot gateway is concerned; these constants give the
// scheduler's meaning to it.
const (
	RegCmd        = 600 // Core -> Robot: motion verb to execute
	RegInit       = 700 // Robot -> Core: ack, equals RegCmd value + 500 on completion
	RegStat       = 900 // Robot -> Core: 0 idle, 1 moving (informational)
	RegCupIdx     = 100 // Core -> Robot: 1=hot, 2=iced, rewritten to 3/4 at the sensor
	RegPickupIdx  = 101 // Core -> Robot: target pickup slot 1..4
	RegCupRes     = 102 // Robot -> Core: legacy dispense result, unused on this path
	RegCupMove    = 104 // Robot -> Core: 1 when robot has arrived at the cup sensor
	RegCupSensor  = 105 // Core -> Robot: 1=cup present, 2=missing
	RegCupOn      = 106 // Robot -> Core: 1 when robot is in position for dispense
	RegSyrupIdx   = 107 // Core -> Robot: 1..8 syrup selector
)

// AckOffset is added to a cmd_code to get the REG_INIT value the robot
// reports when that motion has completed.
const AckOffset = 500

// Motion verbs (cmd_code -> ack = cmd_code + AckOffset).
const (
	CmdCupMove      = 110
	CmdWIMove       = 111
	CmdWIDone       = 112
	CmdCoffeeMove   = 113
	CmdCoffeeDone   = 114
	CmdCoffeePlace  = 115
	CmdCoffeePick   = 116
	CmdHotMove      = 117
	CmdHotDone      = 118
	CmdPickupMove   = 119
	CmdPickupPlace  = 120
	CmdSyrupMove    = 121
	CmdSyrupDone    = 122
	CmdHome         = 123
)

// Device IO coil addresses (unit/addr), per the installed wiring table.
const (
	IOUnitDevices = 5 // ice/water, hot-water, sparkling, cup-dispense signal
	IOUnitSyrups  = 6 // syrup pump triggers
	IOUnitSensors = 3 // cup-presence sensor

	AddrIceTrigger      = 3200 // unit 5, pulse 0.5s
	AddrHotWaterTrigger = 3201 // unit 5, pulse 0.5s to open
	AddrCupDispenseHot  = 3202 // unit 5, pulse 1s
	AddrCupDispenseIced = 3203 // unit 5, pulse 1s
	AddrSparkling       = 3204 // unit 5

	AddrSyrupBase1to4 = 3200 // unit 6, syrups 1..4 -> 3200..3203
	AddrSyrupBase5to8 = 3204 // unit 6, syrups 5..8 -> 3204..3207

	AddrCupPresence = 6 // unit 3, read_coils count 1
)

// SyrupCoilAddr returns the (unit, addr) coil pair for syrup id (1..8).
func SyrupCoilAddr(id int) (unit int, addr int) {
	if id >= 1 && id <= 4 {
		return IOUnitSyrups, AddrSyrupBase1to4 + (id - 1)
	}
	return IOUnitSyrups, AddrSyrupBase5to8 + (id - 5)
}

// Package gateway provides the concrete adapters behind the contracts.*
// gateway interfaces: one HTTP-bridge implementation per interface (talks
// JSON to a sidecar Modbus/serial bridge process) and one in-process
// simulated implementation used for local runs and tests, mirroring the
// teacher's internal/process package shape of several backends behind one
// interface (Local/Docker/K8s there, http/sim here).
package gateway

import (
	"os"

	"github.com/barbrew/control-plane/pkg/models"
	"gopkg.in/yaml.v3"
)

// Topology is the installer-editable device wiring: register addresses,
// coil units/addresses, and pickup rack geometry. Defaults match spec §6
// exactly; an installer overrides only what differs on their hardware.
type Topology struct {
	Registers struct {
		Cmd       int `yaml:"cmd"`
		Init      int `yaml:"init"`
		Stat      int `yaml:"stat"`
		CupIdx    int `yaml:"cup_idx"`
		PickupIdx int `yaml:"pickup_idx"`
		CupRes    int `yaml:"cup_res"`
		CupMove   int `yaml:"cup_move"`
		CupSensor int `yaml:"cup_sensor"`
		CupOn     int `yaml:"cup_on"`
		SyrupIdx  int `yaml:"syrup_idx"`
	} `yaml:"registers"`

	Coils struct {
		DeviceUnit  int `yaml:"device_unit"`
		SyrupUnit   int `yaml:"syrup_unit"`
		SensorUnit  int `yaml:"sensor_unit"`
		IceTrigger  int `yaml:"ice_trigger"`
		HotTrigger  int `yaml:"hot_trigger"`
		CupHot      int `yaml:"cup_hot"`
		CupIced     int `yaml:"cup_iced"`
		Sparkling   int `yaml:"sparkling"`
		SyrupBase14 int `yaml:"syrup_base_1_4"`
		SyrupBase58 int `yaml:"syrup_base_5_8"`
		CupPresence int `yaml:"cup_presence"`
	} `yaml:"coils"`

	PickupSlots int `yaml:"pickup_slots"`
}

// DefaultTopology returns the wiring table from spec §6.
func DefaultTopology() Topology {
	var t Topology
	t.Registers.Cmd = models.RegCmd
	t.Registers.Init = models.RegInit
	t.Registers.Stat = models.RegStat
	t.Registers.CupIdx = models.RegCupIdx
	t.Registers.PickupIdx = models.RegPickupIdx
	t.Registers.CupRes = models.RegCupRes
	t.Registers.CupMove = models.RegCupMove
	t.Registers.CupSensor = models.RegCupSensor
	t.Registers.CupOn = models.RegCupOn
	t.Registers.SyrupIdx = models.RegSyrupIdx

	t.Coils.DeviceUnit = models.IOUnitDevices
	t.Coils.SyrupUnit = models.IOUnitSyrups
	t.Coils.SensorUnit = models.IOUnitSensors
	t.Coils.IceTrigger = models.AddrIceTrigger
	t.Coils.HotTrigger = models.AddrHotWaterTrigger
	t.Coils.CupHot = models.AddrCupDispenseHot
	t.Coils.CupIced = models.AddrCupDispenseIced
	t.Coils.Sparkling = models.AddrSparkling
	t.Coils.SyrupBase14 = models.AddrSyrupBase1to4
	t.Coils.SyrupBase58 = models.AddrSyrupBase5to8
	t.Coils.CupPresence = models.AddrCupPresence

	t.PickupSlots = 4
	return t
}

// LoadTopology reads an installer YAML override on top of the defaults. An
// empty path returns the defaults unchanged.
func LoadTopology(path string) (Topology, error) {
	t := DefaultTopology()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, err
	}
	return t, nil
}

package dsu

type State = uint8

const (
	StateDisconnected State = 0x00
	StateReserved     State = 0x01
	StateConnected    State = 0x02
)

type Model = uint8

const (
	ModelNone        Model = 0
	ModelPartialGyro Model = 1
	ModelFullGyro    Model = 2 // DS4
	ModelNoGyro      Model = 3
)

type ConnectionType = uint8

const (
	ConnectionTypeNone      ConnectionType = 0x00
	ConnectionTypeUSB       ConnectionType = 0x01
	ConnectionTypeBluetooth ConnectionType = 0x02
)

type BatteryStatus = uint8

const (
	BatteryStatusNone     BatteryStatus = 0x00
	BatteryStatusDying    BatteryStatus = 0x01
	BatteryStatusLow      BatteryStatus = 0x02
	BatteryStatusMedium   BatteryStatus = 0x03
	BatteryStatusHigh     BatteryStatus = 0x04
	BatteryStatusFull     BatteryStatus = 0x05
	BatteryStatusCharging BatteryStatus = 0xEE
	BatteryStatusCharged  BatteryStatus = 0xEF
)

// Register flags of controller data request
const (
	RegisterAll  uint8 = 0x00
	RegisterSlot uint8 = 0x01
	RegisterMAC  uint8 = 0x02
)

package models

const CommandTypeFill = "fill_water"

const (
	CommandPending   = "pending"
	CommandCompleted = "completed"
	// CommandUnconfirmed marks an audit copy whose slot write returned an
	// error. The write may still have landed.
	CommandUnconfirmed = "unconfirmed"
)

// DeviceCommand is one fill instruction. The gateway creates it with status
// pending; only the device changes it afterwards.
type DeviceCommand struct {
	OrderID   string  `json:"orderId"`
	Type      string  `json:"type"`
	Volume    float64 `json:"volume"`
	Amount    int64   `json:"amount"`
	Timestamp int64   `json:"timestamp"`
	DeviceID  string  `json:"deviceId"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"createdAt"`

	// Device firmware reads the initial fill state from the command itself.
	CurrentOrder string  `json:"currentOrder"`
	FillProgress float64 `json:"fillProgress"`
	RelayActive  bool    `json:"relayActive"`
}

// DeviceState is the record under devices/{deviceId}, written by the device.
type DeviceState struct {
	DeviceID     string         `json:"deviceId,omitempty"`
	CurrentOrder string         `json:"currentOrder"`
	FillProgress float64        `json:"fillProgress"`
	RelayActive  bool           `json:"relayActive"`
	Status       string         `json:"status"`
	UpdatedAt    int64          `json:"updatedAt"`
	Command      *DeviceCommand `json:"command,omitempty"`
}

type DevicePatch struct {
	CurrentOrder *string  `json:"currentOrder,omitempty"`
	FillProgress *float64 `json:"fillProgress,omitempty"`
	RelayActive  *bool    `json:"relayActive,omitempty"`
	Status       *string  `json:"status,omitempty"`
	UpdatedAt    int64    `json:"updatedAt"`
}

func (p DevicePatch) Apply(d *DeviceState) {
	if p.CurrentOrder != nil {
		d.CurrentOrder = *p.CurrentOrder
	}
	if p.FillProgress != nil {
		d.FillProgress = *p.FillProgress
	}
	if p.RelayActive != nil {
		d.RelayActive = *p.RelayActive
	}
	if p.Status != nil {
		d.Status = *p.Status
	}
	d.UpdatedAt = p.UpdatedAt
}

// DeviceStatus is the subset of DeviceState returned by check-status.
type DeviceStatus struct {
	CurrentOrder string  `json:"currentOrder"`
	FillProgress float64 `json:"fillProgress"`
	RelayActive  bool    `json:"relayActive"`
	Status       string  `json:"status"`
}

func (d DeviceState) Summary() *DeviceStatus {
	status := d.Status
	if status == "" {
		status = "unknown"
	}
	return &DeviceStatus{
		CurrentOrder: d.CurrentOrder,
		FillProgress: d.FillProgress,
		RelayActive:  d.RelayActive,
		Status:       status,
	}
}

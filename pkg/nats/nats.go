package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	SubjectPaymentStatus = "payment.status"
	subjectDeviceCommand = "device.command."
)

// DeviceCommandSubject is the per-device subject fill commands are announced on.
func DeviceCommandSubject(deviceID string) string {
	return subjectDeviceCommand + deviceID
}

type Conn struct {
	nc *nats.Conn
}

func Connect(url string, opts ...nats.Option) (*Conn, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Conn{nc: nc}, nil
}

func (c *Conn) Close() {
	if c != nil && c.nc != nil {
		c.nc.Close()
	}
}

func (c *Conn) Publish(subject string, data []byte) error {
	if c == nil || c.nc == nil {
		return nats.ErrConnectionClosed
	}
	return c.nc.Publish(subject, data)
}

func (c *Conn) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.Publish(subject, data)
}

func (c *Conn) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	if c == nil || c.nc == nil {
		return nil, nats.ErrConnectionClosed
	}
	return c.nc.Subscribe(subject, handler)
}

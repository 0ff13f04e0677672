package fiscal

import (
	"context"
	"time"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
)

// DeviceStatus is the fiscal device lifecycle.
type DeviceStatus string

const (
	DeviceRegistered  DeviceStatus = "Registered"
	DeviceActive      DeviceStatus = "Active"
	DeviceDeactivated DeviceStatus = "Deactivated"
)

type deviceState struct {
	SiteID       string       `json:"siteId"`
	Serial       string       `json:"serial"`
	Make         string       `json:"make,omitempty"`
	Model        string       `json:"model,omitempty"`
	TseID        string       `json:"tseId,omitempty"`
	Status       DeviceStatus `json:"status"`
	RegisteredAt time.Time    `json:"registeredAt"`
	LastSeenAt   *time.Time   `json:"lastSeenAt,omitempty"`
}

// Device is a registered till or terminal bound to a site and optionally to
// a TSE.
type Device struct {
	key   actor.Key
	slot  *actor.Slot[deviceState]
	clock func() time.Time
}

// NewDeviceFactory returns the factory for fiscal device actors.
func NewDeviceFactory(store actor.StateStore) actor.Factory {
	return func(key actor.Key) (actor.Actor, error) {
		return &Device{
			key:   key,
			slot:  actor.NewSlot[deviceState](store, key, "device"),
			clock: time.Now,
		}, nil
	}
}

func (d *Device) Activate(ctx context.Context) error { return d.slot.Read(ctx) }

func (d *Device) Deactivate(context.Context) error { return nil }

func (d *Device) registered() bool { return d.slot.State.Status != "" }

// Register binds the device to a site. Registering twice is a conflict.
func (d *Device) Register(ctx context.Context, siteID, serial, deviceMake, model string) error {
	if d.registered() {
		return domain.Conflict("device %s already registered", d.key.ID)
	}
	if siteID == "" || serial == "" {
		return domain.Precondition("device registration requires site and serial")
	}
	d.slot.State = deviceState{
		SiteID:       siteID,
		Serial:       serial,
		Make:         deviceMake,
		Model:        model,
		Status:       DeviceRegistered,
		RegisteredAt: d.clock().UTC(),
	}
	return d.slot.Write(ctx)
}

// AssignTse binds the signing device used by this till.
func (d *Device) AssignTse(ctx context.Context, tseID string) error {
	if !d.registered() {
		return domain.NotInitialized("device " + d.key.ID)
	}
	d.slot.State.TseID = tseID
	return d.slot.Write(ctx)
}

func (d *Device) SetActive(ctx context.Context, active bool) error {
	if !d.registered() {
		return domain.NotInitialized("device " + d.key.ID)
	}
	if active {
		d.slot.State.Status = DeviceActive
	} else {
		d.slot.State.Status = DeviceDeactivated
	}
	return d.slot.Write(ctx)
}

// Heartbeat records liveness.
func (d *Device) Heartbeat(ctx context.Context) error {
	if !d.registered() {
		return domain.NotInitialized("device " + d.key.ID)
	}
	now := d.clock().UTC()
	d.slot.State.LastSeenAt = &now
	return d.slot.Write(ctx)
}

// DeviceView is the read model.
type DeviceView struct {
	DeviceID     string       `json:"deviceId"`
	SiteID       string       `json:"siteId"`
	Serial       string       `json:"serial"`
	Make         string       `json:"make,omitempty"`
	Model        string       `json:"model,omitempty"`
	TseID        string       `json:"tseId,omitempty"`
	Status       DeviceStatus `json:"status"`
	RegisteredAt time.Time    `json:"registeredAt"`
	LastSeenAt   *time.Time   `json:"lastSeenAt,omitempty"`
}

func (d *Device) View() DeviceView {
	s := d.slot.State
	return DeviceView{
		DeviceID:     d.key.ID,
		SiteID:       s.SiteID,
		Serial:       s.Serial,
		Make:         s.Make,
		Model:        s.Model,
		TseID:        s.TseID,
		Status:       s.Status,
		RegisteredAt: s.RegisteredAt,
		LastSeenAt:   s.LastSeenAt,
	}
}

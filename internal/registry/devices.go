// Package registry holds the per-site snapshot indexes: fiscal devices,
// fiscal transactions by date, and the location tree.
package registry

import (
	"context"
	"sort"
	"time"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
)

// DeviceEntry is one indexed device.
type DeviceEntry struct {
	DeviceID     string    `json:"deviceId"`
	Serial       string    `json:"serial"`
	RegisteredAt time.Time `json:"registeredAt"`
}

type deviceRegistryState struct {
	Devices map[string]DeviceEntry `json:"devices,omitempty"`
}

// DeviceRegistry indexes the fiscal devices of one site.
type DeviceRegistry struct {
	key   actor.Key
	slot  *actor.Slot[deviceRegistryState]
	clock func() time.Time
}

// NewDeviceRegistryFactory returns the factory for device registry actors.
func NewDeviceRegistryFactory(store actor.StateStore) actor.Factory {
	return func(key actor.Key) (actor.Actor, error) {
		return &DeviceRegistry{
			key:   key,
			slot:  actor.NewSlot[deviceRegistryState](store, key, "devices"),
			clock: time.Now,
		}, nil
	}
}

func (r *DeviceRegistry) Activate(ctx context.Context) error { return r.slot.Read(ctx) }

func (r *DeviceRegistry) Deactivate(context.Context) error { return nil }

// Register indexes a device. Registering an already-registered device id is
// a conflict.
func (r *DeviceRegistry) Register(ctx context.Context, deviceID, serial string) error {
	if deviceID == "" {
		return domain.Precondition("device id must not be empty")
	}
	if _, ok := r.slot.State.Devices[deviceID]; ok {
		return domain.Conflict("device %s already registered at site %s", deviceID, r.key.Site)
	}
	if r.slot.State.Devices == nil {
		r.slot.State.Devices = make(map[string]DeviceEntry)
	}
	r.slot.State.Devices[deviceID] = DeviceEntry{
		DeviceID:     deviceID,
		Serial:       serial,
		RegisteredAt: r.clock().UTC(),
	}
	return r.slot.Write(ctx)
}

// Unregister removes a device from the index.
func (r *DeviceRegistry) Unregister(ctx context.Context, deviceID string) error {
	if _, ok := r.slot.State.Devices[deviceID]; !ok {
		return domain.NotFound("device %s at site %s", deviceID, r.key.Site)
	}
	delete(r.slot.State.Devices, deviceID)
	return r.slot.Write(ctx)
}

func (r *DeviceRegistry) IsRegistered(deviceID string) bool {
	_, ok := r.slot.State.Devices[deviceID]
	return ok
}

// List returns the indexed devices ordered by id.
func (r *DeviceRegistry) List() []DeviceEntry {
	out := make([]DeviceEntry, 0, len(r.slot.State.Devices))
	for _, e := range r.slot.State.Devices {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

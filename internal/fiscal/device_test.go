package fiscal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
)

func newDevice(t *testing.T, store actor.StateStore) *Device {
	t.Helper()
	factory := NewDeviceFactory(store)
	a, err := factory(actor.FiscalDeviceKey("org1", "till-1"))
	require.NoError(t, err)
	d := a.(*Device)
	require.NoError(t, d.Activate(context.Background()))
	return d
}

func TestDeviceRegisterOnce(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, actor.NewMemoryStateStore())

	assert.Error(t, d.Register(ctx, "", "SN-1", "", ""), "site is required")
	assert.Error(t, d.Register(ctx, "site1", "", "", ""), "serial is required")

	require.NoError(t, d.Register(ctx, "site1", "SN-1", "Epson", "TM-m30"))
	err := d.Register(ctx, "site1", "SN-1", "Epson", "TM-m30")
	assert.True(t, domain.IsConflict(err))

	view := d.View()
	assert.Equal(t, "till-1", view.DeviceID)
	assert.Equal(t, DeviceRegistered, view.Status)
	assert.Equal(t, "SN-1", view.Serial)
}

func TestDeviceLifecycle(t *testing.T) {
	ctx := context.Background()
	store := actor.NewMemoryStateStore()
	d := newDevice(t, store)

	assert.ErrorIs(t, d.AssignTse(ctx, "tse-1"), domain.ErrNotInitialized)
	assert.ErrorIs(t, d.Heartbeat(ctx), domain.ErrNotInitialized)

	require.NoError(t, d.Register(ctx, "site1", "SN-1", "", ""))
	require.NoError(t, d.AssignTse(ctx, "tse-1"))
	require.NoError(t, d.SetActive(ctx, true))
	require.NoError(t, d.Heartbeat(ctx))

	view := d.View()
	assert.Equal(t, DeviceActive, view.Status)
	assert.Equal(t, "tse-1", view.TseID)
	require.NotNil(t, view.LastSeenAt)
	assert.WithinDuration(t, time.Now(), *view.LastSeenAt, time.Minute)

	require.NoError(t, d.SetActive(ctx, false))
	assert.Equal(t, DeviceDeactivated, d.View().Status)

	// Registration survives reactivation
	revived := newDevice(t, store)
	assert.Equal(t, d.View(), revived.View())
}

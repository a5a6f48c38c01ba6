package connect

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/eventdb"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/protocoldb"
)

// fakeBinding is a scriptable DriverBinding: each hook defaults to
// reporting Success with no side effects.
type fakeBinding struct {
	version  uint32
	onSupported func(protocoldb.Handle, *uint64) efistatus.Status
	onStart     func(protocoldb.Handle, *uint64) efistatus.Status
	onStop      func(protocoldb.Handle, []protocoldb.Handle) efistatus.Status
}

func (b *fakeBinding) Version() uint32 { return b.version }

func (b *fakeBinding) Supported(h protocoldb.Handle, rdp *uint64) efistatus.Status {
	if b.onSupported != nil {
		return b.onSupported(h, rdp)
	}
	return efistatus.Success
}

func (b *fakeBinding) Start(h protocoldb.Handle, rdp *uint64) efistatus.Status {
	if b.onStart != nil {
		return b.onStart(h, rdp)
	}
	return efistatus.Success
}

func (b *fakeBinding) Stop(h protocoldb.Handle, children []protocoldb.Handle) efistatus.Status {
	if b.onStop != nil {
		return b.onStop(h, children)
	}
	return efistatus.Success
}

func newController(t *testing.T, protos *protocoldb.Db) protocoldb.Handle {
	t.Helper()
	handle, err := protos.InstallProtocolInterface(nil, guid.New(), 0)
	require.NoError(t, err)
	return handle
}

func TestConnectControllerTriesHigherVersionBindingFirst(t *testing.T) {
	protos := protocoldb.New(eventdb.New())
	engine := New(protos)
	controller := newController(t, protos)

	var mu sync.Mutex
	claimed := false

	low := &fakeBinding{
		version: 10,
		onSupported: func(protocoldb.Handle, *uint64) efistatus.Status {
			mu.Lock()
			defer mu.Unlock()
			if claimed {
				return efistatus.Unsupported
			}
			return efistatus.Success
		},
	}
	highStarted := false
	high := &fakeBinding{
		version: 20,
		onStart: func(protocoldb.Handle, *uint64) efistatus.Status {
			mu.Lock()
			claimed = true
			mu.Unlock()
			highStarted = true
			return efistatus.Success
		},
	}

	_, err := engine.RegisterDriverBinding(low)
	require.NoError(t, err)
	_, err = engine.RegisterDriverBinding(high)
	require.NoError(t, err)

	require.NoError(t, engine.ConnectController(controller, nil, nil, false))
	assert.True(t, highStarted, "higher-version binding should have started")
}

func TestConnectControllerReturnsNotFoundWhenNoDriverClaims(t *testing.T) {
	protos := protocoldb.New(eventdb.New())
	engine := New(protos)
	controller := newController(t, protos)

	unsupported := &fakeBinding{
		onSupported: func(protocoldb.Handle, *uint64) efistatus.Status { return efistatus.Unsupported },
	}
	_, err := engine.RegisterDriverBinding(unsupported)
	require.NoError(t, err)

	err = engine.ConnectController(controller, nil, nil, false)
	require.Error(t, err)
	assert.Equal(t, efistatus.NotFound, efistatus.Code(err))
}

func TestConnectControllerTreatsEndDevicePathAsSuccessEvenWithoutAClaim(t *testing.T) {
	protos := protocoldb.New(eventdb.New())
	engine := New(protos)
	controller := newController(t, protos)

	unsupported := &fakeBinding{
		onSupported: func(protocoldb.Handle, *uint64) efistatus.Status { return efistatus.Unsupported },
	}
	_, err := engine.RegisterDriverBinding(unsupported)
	require.NoError(t, err)

	end := uint64(0)
	require.NoError(t, engine.ConnectController(controller, nil, &end, false))
}

func TestConnectControllerTriesContextOverrideBeforeRankedCandidates(t *testing.T) {
	protos := protocoldb.New(eventdb.New())
	engine := New(protos)
	controller := newController(t, protos)

	var mu sync.Mutex
	var order []string

	lowButOverridden := &fakeBinding{
		version: 1,
		onSupported: func(protocoldb.Handle, *uint64) efistatus.Status {
			mu.Lock()
			order = append(order, "override")
			mu.Unlock()
			return efistatus.Unsupported
		},
	}
	highButNotOverridden := &fakeBinding{
		version: 100,
		onSupported: func(protocoldb.Handle, *uint64) efistatus.Status {
			mu.Lock()
			order = append(order, "ranked")
			mu.Unlock()
			return efistatus.Unsupported
		},
	}

	overrideHandle, err := engine.RegisterDriverBinding(lowButOverridden)
	require.NoError(t, err)
	_, err = engine.RegisterDriverBinding(highButNotOverridden)
	require.NoError(t, err)

	_ = engine.ConnectController(controller, []protocoldb.Handle{overrideHandle}, nil, false)

	require.Len(t, order, 2)
	assert.Equal(t, "override", order[0], "context-override candidate should be tried before version-ranked candidates")
}

func TestConnectControllerRecursesIntoChildControllers(t *testing.T) {
	protos := protocoldb.New(eventdb.New())
	engine := New(protos)
	parent := newController(t, protos)
	child := newController(t, protos)

	sharedProtocol := guid.New()
	_, err := protos.InstallProtocolInterface(&parent, sharedProtocol, 0xAAAA)
	require.NoError(t, err)
	require.NoError(t, protos.AddProtocolUsage(parent, sharedProtocol, child, child, protocoldb.ByChildController))

	childConnected := false
	binding := &fakeBinding{
		onSupported: func(h protocoldb.Handle, _ *uint64) efistatus.Status {
			if h == child {
				childConnected = true
			}
			return efistatus.Unsupported
		},
	}
	_, err = engine.RegisterDriverBinding(binding)
	require.NoError(t, err)

	_ = engine.ConnectController(parent, nil, nil, true)
	assert.True(t, childConnected, "recursive connect should have visited the child controller")
}

func TestDisconnectControllerStopsChildrenThenController(t *testing.T) {
	protos := protocoldb.New(eventdb.New())
	engine := New(protos)
	controller := newController(t, protos)
	child := newController(t, protos)

	driver := &fakeBinding{}
	driverHandle, err := engine.RegisterDriverBinding(driver)
	require.NoError(t, err)

	sharedProtocol := guid.New()
	_, err = protos.InstallProtocolInterface(&controller, sharedProtocol, 0xBEEF)
	require.NoError(t, err)
	require.NoError(t, protos.AddProtocolUsage(controller, sharedProtocol, driverHandle, child, protocoldb.ByChildController))

	var calls [][]protocoldb.Handle
	driver.onStop = func(_ protocoldb.Handle, children []protocoldb.Handle) efistatus.Status {
		calls = append(calls, children)
		return efistatus.Success
	}

	require.NoError(t, engine.DisconnectController(controller, driverHandle, 0))

	require.Len(t, calls, 2, "expected one Stop call for the children and one final Stop call for the controller")
	assert.Equal(t, []protocoldb.Handle{child}, calls[0])
	assert.Nil(t, calls[1])
}

func TestDisconnectControllerDiscoversDriversManagingControllerWhenNoneSpecified(t *testing.T) {
	protos := protocoldb.New(eventdb.New())
	engine := New(protos)
	controller := newController(t, protos)

	stopped := false
	driver := &fakeBinding{
		onStop: func(protocoldb.Handle, []protocoldb.Handle) efistatus.Status {
			stopped = true
			return efistatus.Success
		},
	}
	driverHandle, err := engine.RegisterDriverBinding(driver)
	require.NoError(t, err)

	managedProtocol := guid.New()
	_, err = protos.InstallProtocolInterface(&controller, managedProtocol, 0xC0DE)
	require.NoError(t, err)
	require.NoError(t, protos.AddProtocolUsage(controller, managedProtocol, driverHandle, controller, protocoldb.ByDriver))

	require.NoError(t, engine.DisconnectController(controller, 0, 0))
	assert.True(t, stopped)
}

func TestDisconnectControllerReturnsNotFoundWhenNothingStops(t *testing.T) {
	protos := protocoldb.New(eventdb.New())
	engine := New(protos)
	controller := newController(t, protos)

	driver := &fakeBinding{
		onStop: func(protocoldb.Handle, []protocoldb.Handle) efistatus.Status { return efistatus.DeviceError },
	}
	driverHandle, err := engine.RegisterDriverBinding(driver)
	require.NoError(t, err)

	managedProtocol := guid.New()
	_, err = protos.InstallProtocolInterface(&controller, managedProtocol, 0xC0DE)
	require.NoError(t, err)
	require.NoError(t, protos.AddProtocolUsage(controller, managedProtocol, driverHandle, controller, protocoldb.ByDriver))

	err = engine.DisconnectController(controller, 0, 0)
	require.Error(t, err)
	assert.Equal(t, efistatus.NotFound, efistatus.Code(err))
}

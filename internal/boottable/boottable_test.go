package boottable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patina-fw/dxecore/internal/collab/simulate"
	"github.com/patina-fw/dxecore/internal/connect"
	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/eventdb"
	"github.com/patina-fw/dxecore/internal/gcd"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/image"
	"github.com/patina-fw/dxecore/internal/metrics"
	"github.com/patina-fw/dxecore/internal/pool"
	"github.com/patina-fw/dxecore/internal/protocoldb"
	"github.com/patina-fw/dxecore/internal/sched"
	"github.com/patina-fw/dxecore/internal/tpl"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type built struct {
	boot *BootServicesTable
	gcdT *GcdServicesTable

	domain   *gcd.Domain
	events   *eventdb.Db
	protos   *protocoldb.Db
	registry *prometheus.Registry
}

func buildTables(t *testing.T) *built {
	t.Helper()
	domain := gcd.New(32, 0)
	_, err := domain.Memory.AddMemorySpace(gcd.MemorySystemMemory, 0x10000000, 0x1000000, 0)
	require.NoError(t, err)

	events := eventdb.New()
	protos := protocoldb.New(events)
	scheduler := sched.New(events)
	registry := pool.NewRegistry(&domain.Memory, 1)
	images := image.New(&domain.Memory, registry, protos, simulate.PEImageParser{})
	driverConnect := connect.New(protos)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	boot := Build(scheduler, events, registry, &domain.Memory, protos, images, driverConnect, m)
	gcdT := BuildGcdServices(&domain.Memory, &domain.IO)

	return &built{boot: boot, gcdT: gcdT, domain: domain, events: events, protos: protos, registry: reg}
}

func TestBuildStampsBootServicesHeader(t *testing.T) {
	b := buildTables(t)
	assert.EqualValues(t, BootServicesSignature, b.boot.Header.Signature)
	assert.Equal(t, Revision2_7, b.boot.Header.Revision)
	assert.NotZero(t, b.boot.Header.CRC32)
	assert.NotZero(t, b.boot.Header.HeaderSize)
}

func TestBuildStampsGcdServicesHeader(t *testing.T) {
	b := buildTables(t)
	assert.EqualValues(t, DXEServicesSignature, b.gcdT.Header.Signature)
	assert.NotZero(t, b.gcdT.Header.CRC32)
}

func TestCRC32CoversHeaderWithFieldZeroed(t *testing.T) {
	b := buildTables(t)
	withCRC := b.boot.Header
	b.boot.Header.CRC32 = 0
	recomputed := tableCRC32(b.boot)
	assert.Equal(t, withCRC.CRC32, recomputed)
}

func TestRaiseAndRestoreTPLRoundTrip(t *testing.T) {
	b := buildTables(t)
	old := b.boot.RaiseTPL(tpl.Notify)
	assert.Equal(t, tpl.Application, old)
	b.boot.RestoreTPL(old)
}

func TestAllocatePoolAndFreePoolRoundTripThroughTable(t *testing.T) {
	b := buildTables(t)
	addr, err := b.boot.AllocatePool(gcd.MemorySystemMemory, 0x100)
	require.NoError(t, err)
	require.NoError(t, b.boot.FreePool(addr))
}

func TestCreateEventAndSignalAndCheckEventThroughTable(t *testing.T) {
	b := buildTables(t)
	id, err := b.boot.CreateEvent(0, tpl.Application, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, efistatus.NotReady, b.boot.CheckEvent(id))
	assert.Equal(t, efistatus.Success, b.boot.SignalEvent(id))
	assert.Equal(t, efistatus.Success, b.boot.CheckEvent(id))
	require.NoError(t, b.boot.CloseEvent(id))
}

func TestInstallProtocolInterfaceAndLocateHandleThroughTable(t *testing.T) {
	b := buildTables(t)
	testGUID := guid.New()
	handle, err := b.boot.InstallProtocolInterface(nil, testGUID, 0xABCD)
	require.NoError(t, err)

	handles := b.boot.LocateHandle(testGUID)
	require.Len(t, handles, 1)
	assert.Equal(t, handle, handles[0])

	iface, err := b.boot.HandleProtocol(handle, testGUID)
	require.NoError(t, err)
	assert.EqualValues(t, 0xABCD, iface)
}

func TestCalculateCrc32MatchesStandardIEEE(t *testing.T) {
	b := buildTables(t)
	assert.Equal(t, uint32(0xcbf43926), b.boot.CalculateCrc32([]byte("123456789")))
}

func TestGcdServicesAddAndAllocateMemorySpaceThroughTable(t *testing.T) {
	b := buildTables(t)
	require.NoError(t, b.gcdT.AddMemorySpace(gcd.MemoryMemoryMappedIO, 0x80000000, 0x1000, 0))
	addr, err := b.gcdT.AllocateMemorySpace(gcd.AllocateAtAddress(0x80000000), gcd.MemoryMemoryMappedIO, 0, 0x1000, 1, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0x80000000, addr)
}

func TestAllocatePoolThroughTableReportsBytesInUseGauge(t *testing.T) {
	b := buildTables(t)
	addr, err := b.boot.AllocatePool(gcd.MemorySystemMemory, 0x200)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(b.registry, "dxecore_pool_bytes_in_use")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, b.boot.FreePool(addr))
}

func TestInstallProtocolInterfaceThroughTableReportsHandleCountGauge(t *testing.T) {
	b := buildTables(t)
	testGUID := guid.New()
	_, err := b.boot.InstallProtocolInterface(nil, testGUID, 0x1)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(b.registry, "dxecore_protocol_handle_count")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRaiseTPLThroughTableReportsTransitionCounter(t *testing.T) {
	b := buildTables(t)
	old := b.boot.RaiseTPL(tpl.Notify)
	b.boot.RestoreTPL(old)

	count, err := testutil.GatherAndCount(b.registry, "dxecore_tpl_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

package protocoldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patina-fw/dxecore/internal/eventdb"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/tpl"
)

var testGUID1 = guid.MustParse("0e896c7a-57dc-4987-bc22-abc3a8263210")
var testGUID2 = guid.MustParse("9c5dca1d-ac0f-46db-9eba-2bc961c711a2")

func newTestDb(t *testing.T) (*Db, *eventdb.Db) {
	t.Helper()
	events := eventdb.New()
	return New(events), events
}

func TestInstallProtocolInterfaceAllocatesNewHandle(t *testing.T) {
	db, _ := newTestDb(t)

	h, err := db.InstallProtocolInterface(nil, testGUID1, 0x1234)
	require.NoError(t, err)
	assert.NotEqual(t, Handle(0), h)
	assert.True(t, db.ValidateHandle(h))

	iface, err := db.GetInterfaceForHandle(h, testGUID1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), iface)
}

func TestInstallProtocolInterfaceRejectsDuplicateOnSameHandle(t *testing.T) {
	db, _ := newTestDb(t)

	h, err := db.InstallProtocolInterface(nil, testGUID1, 0x1234)
	require.NoError(t, err)

	_, err = db.InstallProtocolInterface(&h, testGUID1, 0x5678)
	assert.Error(t, err)
}

func TestUninstallProtocolInterfaceInvalidatesEmptyHandle(t *testing.T) {
	db, _ := newTestDb(t)

	h, err := db.InstallProtocolInterface(nil, testGUID1, 0x1234)
	require.NoError(t, err)

	require.NoError(t, db.UninstallProtocolInterface(h, testGUID1, 0x1234))
	assert.False(t, db.ValidateHandle(h))
}

func TestUninstallProtocolInterfaceRejectsWhenOpenedByDriver(t *testing.T) {
	db, _ := newTestDb(t)

	h, err := db.InstallProtocolInterface(nil, testGUID1, 0x1234)
	require.NoError(t, err)
	agent, err := db.InstallProtocolInterface(nil, testGUID2, 0xAAAA)
	require.NoError(t, err)

	require.NoError(t, db.AddProtocolUsage(h, testGUID1, agent, h, ByDriver))

	err = db.UninstallProtocolInterface(h, testGUID1, 0x1234)
	assert.ErrorContains(t, err, "AccessDenied")
}

func TestReinstallProtocolInterfaceSwapsInterfaceAndKeepsHandleValid(t *testing.T) {
	db, _ := newTestDb(t)

	h, err := db.InstallProtocolInterface(nil, testGUID1, 0x1234)
	require.NoError(t, err)

	require.NoError(t, db.ReinstallProtocolInterface(h, testGUID1, 0x1234, 0x5678))

	iface, err := db.GetInterfaceForHandle(h, testGUID1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x5678), iface)
}

// TestProtocolNotifyFiresOnInstall mirrors the "protocol notify fires"
// scenario: RegisterProtocolNotify(G1, E), then install, asserts E
// signalled and that locate-by-registration returns the new handle
// exactly once.
func TestProtocolNotifyFiresOnInstall(t *testing.T) {
	db, events := newTestDb(t)

	e, err := events.Create(eventdb.NotifySignal, tpl.Callback, func(eventdb.ID, any) {}, nil)
	require.NoError(t, err)
	assert.False(t, events.IsSignalled(e))

	reg, err := db.RegisterProtocolNotify(testGUID1, e)
	require.NoError(t, err)

	h, err := db.InstallProtocolInterface(nil, testGUID1, 0x1234)
	require.NoError(t, err)
	assert.True(t, events.IsSignalled(e))

	got, err := db.LocateByRegistration(reg)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = db.LocateByRegistration(reg)
	assert.ErrorContains(t, err, "NotFound")
}

// TestOpenProtocolExclusivity mirrors the "OpenProtocol exclusivity"
// scenario: BY_DRIVER open by one agent succeeds, a second BY_DRIVER
// open by a different agent on the same controller is access-denied
// until the first closes.
func TestOpenProtocolExclusivity(t *testing.T) {
	db, _ := newTestDb(t)

	h, err := db.InstallProtocolInterface(nil, testGUID1, 0x1234)
	require.NoError(t, err)
	a1, err := db.InstallProtocolInterface(nil, testGUID2, 0xAAAA)
	require.NoError(t, err)
	a2, err := db.InstallProtocolInterface(nil, testGUID2, 0xBBBB)
	require.NoError(t, err)
	c1, err := db.InstallProtocolInterface(nil, testGUID2, 0xCCCC)
	require.NoError(t, err)

	require.NoError(t, db.AddProtocolUsage(h, testGUID1, a1, c1, ByDriver))

	err = db.AddProtocolUsage(h, testGUID1, a2, c1, ByDriver)
	assert.ErrorContains(t, err, "AccessDenied")

	require.NoError(t, db.RemoveProtocolUsage(h, testGUID1, a1, c1))

	require.NoError(t, db.AddProtocolUsage(h, testGUID1, a2, c1, ByDriver))
}

func TestAddProtocolUsageExactMatchRepeatIncrementsOpenCount(t *testing.T) {
	db, _ := newTestDb(t)

	h, err := db.InstallProtocolInterface(nil, testGUID1, 0x1234)
	require.NoError(t, err)
	agent, err := db.InstallProtocolInterface(nil, testGUID2, 0xAAAA)
	require.NoError(t, err)

	require.NoError(t, db.AddProtocolUsage(h, testGUID1, agent, 0, ByHandleProtocol))
	require.NoError(t, db.AddProtocolUsage(h, testGUID1, agent, 0, ByHandleProtocol))

	info, err := db.GetOpenProtocolInformation(h, testGUID1)
	require.NoError(t, err)
	require.Len(t, info, 1)
	assert.Equal(t, uint32(2), info[0].OpenCount)
}

func TestLocateHandlesReturnsOnlyMatchingHandlesInOrder(t *testing.T) {
	db, _ := newTestDb(t)

	h1, err := db.InstallProtocolInterface(nil, testGUID1, 0x1)
	require.NoError(t, err)
	_, err = db.InstallProtocolInterface(nil, testGUID2, 0x2)
	require.NoError(t, err)
	h3, err := db.InstallProtocolInterface(nil, testGUID1, 0x3)
	require.NoError(t, err)

	assert.Equal(t, []Handle{h1, h3}, db.LocateHandles(testGUID1))
}

func TestLocateProtocolReturnsNotFoundWhenAbsent(t *testing.T) {
	db, _ := newTestDb(t)

	_, err := db.LocateProtocol(testGUID1)
	assert.ErrorContains(t, err, "NotFound")
}

func TestRemoveProtocolUsageClearsExclusiveFlag(t *testing.T) {
	db, _ := newTestDb(t)

	h, err := db.InstallProtocolInterface(nil, testGUID1, 0x1234)
	require.NoError(t, err)
	agent, err := db.InstallProtocolInterface(nil, testGUID2, 0xAAAA)
	require.NoError(t, err)

	require.NoError(t, db.AddProtocolUsage(h, testGUID1, agent, 0, Exclusive))

	require.NoError(t, db.RemoveProtocolUsage(h, testGUID1, agent, 0))

	// now that the exclusive usage is gone, a different agent can open
	// it exclusively.
	agent2, err := db.InstallProtocolInterface(nil, testGUID2, 0xBBBB)
	require.NoError(t, err)
	require.NoError(t, db.AddProtocolUsage(h, testGUID1, agent2, 0, Exclusive))
}

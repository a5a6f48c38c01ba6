package commands

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/patina-fw/dxecore/internal/archbridge"
	"github.com/patina-fw/dxecore/internal/boottable"
	"github.com/patina-fw/dxecore/internal/collab"
	"github.com/patina-fw/dxecore/internal/collab/simulate"
	"github.com/patina-fw/dxecore/internal/connect"
	"github.com/patina-fw/dxecore/internal/dispatcher"
	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/eventdb"
	"github.com/patina-fw/dxecore/internal/gcd"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/image"
	"github.com/patina-fw/dxecore/internal/logger"
	"github.com/patina-fw/dxecore/internal/metrics"
	"github.com/patina-fw/dxecore/internal/pool"
	"github.com/patina-fw/dxecore/internal/protocoldb"
	"github.com/patina-fw/dxecore/internal/sched"
	"github.com/patina-fw/dxecore/pkg/config"
)

// Well-known PI specification protocol GUIDs the scheduler waits for
// before it can mask interrupts or receive timer ticks. Real values,
// matching internal/sched's own (unexported) copies.
var (
	cpuArchProtocolGUID   = guid.MustParse("26baccb1-6f42-11d4-bce7-0080c73c8881")
	timerArchProtocolGUID = guid.MustParse("26baccb3-6f42-11d4-bce7-0080c73c8881")
)

// session bundles every C1-C13 component a booted core needs, plus the
// manifest-derived firmware volume it was booted against. Built once by
// newSession and shared by run, inspect, and debug.
type session struct {
	cfg *config.Config

	domain     *gcd.Domain
	events     *eventdb.Db
	protos     *protocoldb.Db
	scheduler  *sched.Scheduler
	registry   *pool.Registry
	images     *image.Service
	dispatcher *dispatcher.Dispatcher
	connect    *connect.Engine
	metrics    *metrics.Metrics
	promReg    *prometheus.Registry

	bootTable *boottable.BootServicesTable
	gcdTable  *boottable.GcdServicesTable
}

// genericResolver hosts no statically linked driver modules: every
// driver file discovered in a manifest gets the same synthetic entry
// point, which just reports that it ran. Grounded on
// dispatcher.EntryPointResolver's own doc comment: "a real build wires
// this to the program's statically linked driver modules...tests wire
// canned behaviors" — a standalone simulated run is closer to the test
// case than to a real build, since there is no statically linked driver
// to wire.
type genericResolver struct{}

func (genericResolver) EntryPointFor(file collab.File) (image.EntryPointFunc, bool) {
	name := file.Name()
	return func(imageHandle protocoldb.Handle, systemTable uint64) (efistatus.Status, []byte) {
		logger.Info("driver entry point running", "driver", name.String(), "image_handle", imageHandle)
		return efistatus.Success, nil
	}, true
}

// newSession assembles every component from cfg and boots it: arch
// protocols installed, the scheduler and dispatcher wired for
// notify-driven auto-dispatch, and the boot-services/DXE-services tables
// built. It does not load a firmware volume; call loadManifest for that.
func newSession(cfg *config.Config) (*session, error) {
	domain := gcd.New(cfg.Gcd.AddressBits, int(cfg.Gcd.BlockTableCapacity))
	if _, err := domain.Memory.AddMemorySpace(gcd.MemorySystemMemory, 0x10000000, 0x4000000, 0); err != nil {
		return nil, fmt.Errorf("session: add memory space: %w", err)
	}

	events := eventdb.New()
	protos := protocoldb.New(events)
	scheduler := sched.New(events)
	registry := pool.NewRegistry(&domain.Memory, 1)
	images := image.New(&domain.Memory, registry, protos, simulate.PEImageParser{})
	resolver := genericResolver{}
	d := dispatcher.New(protos, images, resolver)
	driverConnect := connect.New(protos)

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	d.SetMetrics(m)

	bridge := archbridge.New(protos)
	if _, err := bridge.InstallArchProtocol(cpuArchProtocolGUID, simulate.NewCPUArch()); err != nil {
		return nil, fmt.Errorf("session: install cpu-arch protocol: %w", err)
	}
	if _, err := bridge.InstallArchProtocol(timerArchProtocolGUID, simulate.NewTimerArch()); err != nil {
		return nil, fmt.Errorf("session: install timer-arch protocol: %w", err)
	}
	if err := scheduler.Init(bridge); err != nil {
		return nil, fmt.Errorf("session: scheduler init: %w", err)
	}
	if err := d.Init(events); err != nil {
		return nil, fmt.Errorf("session: dispatcher init: %w", err)
	}

	for i, name := range cfg.Dispatch.DriverBindingPriority {
		g, err := guid.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("session: dispatch.driver_binding_priority[%d]: %w", i, err)
		}
		// Highest priority first: Engine ranks installed bindings by
		// version, so the first-listed name gets the highest version.
		version := uint32(len(cfg.Dispatch.DriverBindingPriority) - i)
		binding := simulate.NewLoggingDriverBinding(name, g, version, protos)
		if _, err := driverConnect.RegisterDriverBinding(binding); err != nil {
			return nil, fmt.Errorf("session: register driver binding %q: %w", name, err)
		}
	}

	boot := boottable.Build(scheduler, events, registry, &domain.Memory, protos, images, driverConnect, m)
	gcdTable := boottable.BuildGcdServices(&domain.Memory, &domain.IO)

	return &session{
		cfg:        cfg,
		domain:     domain,
		events:     events,
		protos:     protos,
		scheduler:  scheduler,
		registry:   registry,
		images:     images,
		dispatcher: d,
		connect:    driverConnect,
		metrics:    m,
		promReg:    promReg,
		bootTable:  boot,
		gcdTable:   gcdTable,
	}, nil
}

// loadManifest parses the manifest at path and registers it as a
// firmware volume with the session's dispatcher, located immediately
// above the memory space newSession reserved.
func (s *session) loadManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("session: read manifest: %w", err)
	}
	m, err := simulate.ParseManifest(data)
	if err != nil {
		return fmt.Errorf("session: parse manifest: %w", err)
	}

	const fvBase = 0x14000000
	fv, err := simulate.BuildFirmwareVolume(fvBase, m)
	if err != nil {
		return fmt.Errorf("session: build firmware volume: %w", err)
	}

	if _, err := s.dispatcher.RegisterFirmwareVolume(fv, 0); err != nil {
		return fmt.Errorf("session: register firmware volume: %w", err)
	}
	return nil
}

// runToCompletion repeatedly dispatches pending drivers until a full
// pass claims nothing further, the same convergence condition
// internal/connect.Engine.ConnectController applies to driver binding.
func (s *session) runToCompletion() {
	for {
		before := len(s.dispatcher.PendingDriverNames())
		s.dispatcher.Dispatch()
		after := len(s.dispatcher.PendingDriverNames())
		if after == before {
			return
		}
	}
}

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/patina-fw/dxecore/internal/cli/output"
	"github.com/patina-fw/dxecore/internal/gcd"
	"github.com/patina-fw/dxecore/pkg/config"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Boot a session and print its GCD map, protocol handles, and dispatch state",
	Long: `Boot a simulated core session against the configured firmware-volume
manifest, dispatch it to completion, and print a snapshot of its state:
the GCD memory map, every protocol handle, and any driver that never
had its dependency expression satisfied.`,
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	sess, err := newSession(cfg)
	if err != nil {
		return err
	}
	if err := sess.loadManifest(cfg.Simulation.ManifestPath); err != nil {
		return err
	}
	sess.runToCompletion()

	fmt.Printf("Configuration: %s\n", getConfigSource(GetConfigFile()))
	fmt.Printf("Manifest:      %s\n\n", cfg.Simulation.ManifestPath)

	fmt.Println("GCD memory map")
	if err := output.PrintTable(os.Stdout, memoryMapTable(sess)); err != nil {
		return err
	}

	fmt.Println("\nProtocol handles")
	if err := output.PrintTable(os.Stdout, protocolTable(sess)); err != nil {
		return err
	}

	pending := sess.dispatcher.PendingDriverNames()
	fmt.Printf("\nPending drivers: %d\n", len(pending))
	for _, name := range pending {
		fmt.Printf("  - %s\n", name.String())
	}

	return nil
}

func memoryMapTable(sess *session) *output.TableData {
	t := output.NewTableData("Base", "Length", "Type", "Allocated")
	for _, d := range sess.domain.Memory.GetMemorySpaceMap() {
		t.AddRow(
			fmt.Sprintf("0x%016x", d.BaseAddress),
			fmt.Sprintf("0x%x", d.Length),
			memoryTypeName(d.Type),
			fmt.Sprintf("%t", d.Allocated),
		)
	}
	return t
}

func memoryTypeName(t gcd.MemoryType) string {
	switch t {
	case gcd.MemoryNonExistent:
		return "non-existent"
	case gcd.MemoryReserved:
		return "reserved"
	case gcd.MemorySystemMemory:
		return "system-memory"
	case gcd.MemoryMemoryMappedIO:
		return "mmio"
	case gcd.MemoryPersistent:
		return "persistent"
	case gcd.MemoryMoreReliable:
		return "more-reliable"
	case gcd.MemoryUnaccepted:
		return "unaccepted"
	default:
		return "unknown"
	}
}

func protocolTable(sess *session) *output.TableData {
	t := output.NewTableData("Handle", "Protocols")
	for _, h := range sess.protos.AllHandles() {
		protos, err := sess.protos.GetProtocolsOnHandle(h)
		if err != nil {
			continue
		}
		names := ""
		for i, g := range protos {
			if i > 0 {
				names += ", "
			}
			names += g.String()
		}
		t.AddRow(fmt.Sprintf("%d", h), names)
	}
	return t
}

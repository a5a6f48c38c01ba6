package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/patina-fw/dxecore/internal/cli/prompt"
	"github.com/patina-fw/dxecore/internal/protocoldb"
	"github.com/patina-fw/dxecore/pkg/config"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Walk a session's driver dispatch one pass at a time, interactively",
	Long: `Boot a session against the configured manifest and drop into an
interactive shell for walking its driver dispatch sequence one round
at a time: run a single dispatch pass, inspect a protocol handle, or
list the drivers still waiting on their dependency expression.`,
	RunE: runDebug,
}

const (
	debugActionNextPass    = "next-pass: run one dispatch round"
	debugActionShowHandle  = "show handle: print the protocols on a handle"
	debugActionShowPending = "show pending: list drivers still waiting on their depex"
	debugActionQuit        = "quit"
)

func runDebug(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("Session booted against %s. %d driver(s) pending.\n\n", cfg.Simulation.ManifestPath, len(sess.dispatcher.PendingDriverNames()))

	for {
		choice, err := prompt.SelectString("Action", []string{
			debugActionNextPass,
			debugActionShowHandle,
			debugActionShowPending,
			debugActionQuit,
		})
		if err != nil {
			return fmt.Errorf("debug: prompt: %w", err)
		}

		switch choice {
		case debugActionNextPass:
			before := len(sess.dispatcher.PendingDriverNames())
			sess.dispatcher.Dispatch()
			after := len(sess.dispatcher.PendingDriverNames())
			fmt.Printf("Dispatch pass complete: %d pending before, %d pending after.\n", before, after)

		case debugActionShowHandle:
			handleStr, err := prompt.SelectString("Handle", handleOptions(sess))
			if err != nil {
				return fmt.Errorf("debug: prompt: %w", err)
			}
			raw, err := strconv.ParseUint(handleStr, 10, 64)
			if err != nil {
				fmt.Printf("invalid handle %q\n", handleStr)
				continue
			}
			h := protocoldb.Handle(raw)
			protos, err := sess.protos.GetProtocolsOnHandle(h)
			if err != nil {
				fmt.Printf("handle %d: %v\n", h, err)
				continue
			}
			fmt.Printf("handle %d carries %d protocol(s):\n", h, len(protos))
			for _, g := range protos {
				fmt.Printf("  - %s\n", g.String())
			}

		case debugActionShowPending:
			pending := sess.dispatcher.PendingDriverNames()
			fmt.Printf("%d driver(s) pending:\n", len(pending))
			for _, name := range pending {
				fmt.Printf("  - %s\n", name.String())
			}

		case debugActionQuit:
			return nil
		}

		fmt.Println()
	}
}

func handleOptions(sess *session) []string {
	handles := sess.protos.AllHandles()
	options := make([]string, 0, len(handles))
	for _, h := range handles {
		options = append(options, strconv.FormatUint(h, 10))
	}
	return options
}

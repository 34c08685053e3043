package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"observatory.world/internal/persistence/ledger"
	"observatory.world/internal/persistence/snapshot"
	"observatory.world/internal/sim/world"
)

var (
	dataDir string
	worldID string
)

func main() {
	root := &cobra.Command{
		Use:   "worldctl",
		Short: "Inspect observatory world data on disk",
	}
	root.PersistentFlags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	root.PersistentFlags().StringVar(&worldID, "world", "world_1", "world id")

	root.AddCommand(ledgerCmd(), snapshotCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func worldDir() string { return filepath.Join(dataDir, "worlds", worldID) }

func ledgerCmd() *cobra.Command {
	var from, to uint64
	var verbose bool
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Scan committed tick batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := filepath.Join(worldDir(), "ledger")
			return ledger.ScanTicks(dir, func(tick uint64, events []world.Event) error {
				if tick < from || (to > 0 && tick > to) {
					return nil
				}
				last := events[len(events)-1]
				fmt.Printf("tick=%d events=%d digest=%s processed=%d rejected=%d live=%d\n",
					tick, len(events), last.Payload.Digest,
					last.Payload.ActionsProcessed, last.Payload.ActionsRejected, last.Payload.AgentsLive)
				if verbose {
					for _, ev := range events {
						fmt.Printf("  seq=%d type=%s agents=%v\n", ev.Sequence, ev.Type, ev.AgentIDs)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first tick to print")
	cmd.Flags().Uint64Var(&to, "to", 0, "last tick to print (0 = end)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every event")
	return cmd
}

func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot [path]",
		Short: "Inspect a snapshot file (default: newest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				var err error
				path, _, err = snapshot.LatestAtOrBefore(filepath.Join(worldDir(), "snapshots"), ^uint64(0))
				if err != nil {
					return err
				}
				if path == "" {
					return fmt.Errorf("no snapshots under %s", worldDir())
				}
			}
			snap, err := snapshot.ReadSnapshot(path)
			if err != nil {
				return err
			}
			fmt.Printf("snapshot v%d world=%s tick=%d seed=%d regions=%d agents=%d\n",
				snap.Header.Version, snap.Header.WorldID, snap.Header.Tick,
				snap.Seed, len(snap.Regions), len(snap.Agents))
			fmt.Printf("state_hash=%s\n", snap.StateHash)
			fmt.Printf("catalogs regions=%s resources=%s\n", snap.RegionsDigest, snap.ResourcesDigest)
			for _, r := range snap.Regions {
				fmt.Printf("  region=%s pool=%v\n", r.ID, r.Pool)
			}
			return nil
		},
	}
}

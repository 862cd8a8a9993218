package main

import (
	"fmt"
	"time"

	"github.com/cortex-mind/cortex/internal/transport"
	"github.com/spf13/cobra"
)

var gcLocksEntity string

var gcLocksCmd = &cobra.Command{
	Use:   "gc-locks",
	Short: "Force-release every lock held on an entity by calling a running daemon's lock.check/lock.release tools",
	Long: `gc-locks is an operational escape hatch for a stuck entity lock: the
reaper already releases expired locks on its own, but a held lock
whose session is gone (crashed agent, killed process) sits until its
TTL lapses. gc-locks asks the daemon named by --nats-url what is held
on --entity and releases every one of them immediately.`,
	RunE: runGCLocks,
}

var gcLocksNATSURL string

func init() {
	gcLocksCmd.Flags().StringVar(&gcLocksEntity, "entity", "", "entity id to clear locks from (required)")
	gcLocksCmd.Flags().StringVar(&gcLocksNATSURL, "nats-url", "", "transport bus URL; defaults to the config's nats_port on localhost")
	rootCmd.AddCommand(gcLocksCmd)
}

func runGCLocks(cmd *cobra.Command, args []string) error {
	if gcLocksEntity == "" {
		return fmt.Errorf("--entity is required")
	}

	cfg := loadConfig(configPath)
	url := gcLocksNATSURL
	if url == "" {
		url = fmt.Sprintf("nats://127.0.0.1:%d", cfg.Server.NATSPort)
	}

	client, err := transport.NewClient(url, "gc-locks")
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer client.Close()

	var checked struct {
		IsLocked  bool   `json:"is_locked"`
		LockCount int    `json:"lock_count"`
		Locks     []struct {
			LockID string `json:"lock_id"`
		} `json:"locks"`
	}
	checkSubject := transport.ToolSubject("lock.check")
	if err := client.RequestJSON(checkSubject, map[string]string{"entity_id": gcLocksEntity}, &checked, 5*time.Second); err != nil {
		return fmt.Errorf("lock.check failed: %w", err)
	}
	if !checked.IsLocked {
		fmt.Printf("no locks held on %s\n", gcLocksEntity)
		return nil
	}

	releaseSubject := transport.ToolSubject("lock.release")
	released := 0
	for _, l := range checked.Locks {
		var resp struct {
			Released bool `json:"released"`
		}
		if err := client.RequestJSON(releaseSubject, map[string]string{"lock_id": l.LockID}, &resp, 5*time.Second); err != nil {
			return fmt.Errorf("lock.release %s failed: %w", l.LockID, err)
		}
		if resp.Released {
			released++
		}
	}
	fmt.Printf("released %d/%d locks on %s\n", released, checked.LockCount, gcLocksEntity)
	return nil
}


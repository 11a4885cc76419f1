// File: internal/cli/stats.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-state/cache"
	"github.com/momentics/hioload-state/codec"
	"github.com/momentics/hioload-state/connection"
	"github.com/momentics/hioload-state/facade"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print usage of the shared segments",
	Long: `Stats attaches to the segments named by HIOLOAD_CACHE_SEGMENT and
HIOLOAD_CONN_SEGMENT and prints their row counts and sizes. Segments that are
not configured or do not exist are skipped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printStats(cmd.OutOrStdout(), config)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func printStats(w io.Writer, cfg *facade.Config) error {
	printed := false
	if ok, err := segmentExists(cfg.Cache.Segment); err != nil {
		return err
	} else if ok {
		c, err := cache.New[[]byte](cache.Config{
			Capacity:           cfg.Cache.Capacity,
			ConflictProportion: cfg.Cache.ConflictProportion,
			ColumnSize:         cfg.Cache.ColumnSize,
			Segment:            cfg.Cache.Segment,
		}, codec.Raw{})
		if err != nil {
			return fmt.Errorf("attach cache: %w", err)
		}
		defer c.Close()
		fmt.Fprintf(w, "cache        %s\n", cfg.Cache.Segment)
		fmt.Fprintf(w, "  rows       %d / %d\n", c.Len(), cfg.Cache.Capacity)
		fmt.Fprintf(w, "  memory     %s\n", humanize.IBytes(uint64(c.MemoryUsage())))
		printed = true
	}
	if ok, err := segmentExists(cfg.Connections.Segment); err != nil {
		return err
	} else if ok {
		t, err := connection.NewTable(connection.Config{
			Capacity:           cfg.Connections.Capacity,
			ConflictProportion: cfg.Connections.ConflictProportion,
			ColumnSize:         cfg.Connections.ColumnSize,
			Segment:            cfg.Connections.Segment,
		})
		if err != nil {
			return fmt.Errorf("attach connections: %w", err)
		}
		defer t.Close()
		fmt.Fprintf(w, "connections  %s\n", cfg.Connections.Segment)
		fmt.Fprintf(w, "  identities %d / %d\n", t.Count(), cfg.Connections.Capacity)
		fmt.Fprintf(w, "  sockets    %d\n", t.ConnectionsAmount())
		fmt.Fprintf(w, "  memory     %s\n", humanize.IBytes(uint64(t.MemorySize())))
		printed = true
	}
	if !printed {
		fmt.Fprintln(w, "no shared segments configured")
	}
	return nil
}

func segmentExists(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

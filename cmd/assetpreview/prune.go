package main

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPruneCommand(v *viper.Viper) *cobra.Command {
	var (
		olderThan time.Duration
		unused    time.Duration
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old entries from the persisted thumbnail cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPreviewer(v)
			if err != nil {
				return err
			}
			defer p.Close()

			disk := p.Cache().Disk()
			if disk == nil {
				return errors.New("no cache directory configured")
			}

			var removed int
			switch {
			case all:
				before, err := disk.Stats()
				if err != nil {
					return err
				}
				if err := disk.Clear(); err != nil {
					return err
				}
				removed = before.Entries
			case unused > 0:
				removed, err = disk.PruneUnused(unused)
			default:
				removed, err = disk.Prune(olderThan)
			}
			if err != nil {
				return err
			}

			stats, err := disk.Stats()
			if err != nil {
				return err
			}
			log.Info().
				Int("removed", removed).
				Int("remaining", stats.Entries).
				Int64("bytes", stats.TotalSize).
				Msg("cache pruned")
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "remove entries created before this age")
	cmd.Flags().DurationVar(&unused, "unused", 0, "remove entries not read for this long instead")
	cmd.Flags().BoolVar(&all, "all", false, "remove every entry")
	return cmd
}

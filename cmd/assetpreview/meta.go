package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newMetaCommand(v *viper.Viper) *cobra.Command {
	var tier int

	cmd := &cobra.Command{
		Use:   "meta <file|pattern>...",
		Short: "Print the metadata record of each asset as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTier(tier)
			if err != nil {
				return err
			}
			paths, err := expandArgs(args)
			if err != nil {
				return err
			}
			p, err := newPreviewer(v)
			if err != nil {
				return err
			}
			defer p.Close()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			for _, path := range paths {
				h, err := p.RequestMetadata(cmd.Context(), path, t)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				res, err := h.Wait(cmd.Context())
				if err != nil {
					log.Error().Err(err).Str("path", path).Msg("no metadata")
					continue
				}
				rec := res.Metadata
				if err := enc.Encode(map[string]any{
					"path":         rec.Identity.Path,
					"tier":         rec.Tier.String(),
					"partial":      rec.Partial,
					"fields":       rec.Fields,
					"field_errors": rec.FieldErrors,
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tier, "tier", 1, "1 for basic metadata, 2 to import the asset")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gophersatwork/assetpreview"
)

func newThumbCommand(v *viper.Viper) *cobra.Command {
	var (
		width, height, tier int
		out                 string
		force               bool
	)

	cmd := &cobra.Command{
		Use:   "thumb <file|pattern>...",
		Short: "Write a PNG thumbnail for each asset",
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

			ctx := cmd.Context()
			size := assetpreview.Size{Width: width, Height: height}
			handles := make([]*assetpreview.Handle, len(paths))
			for i, path := range paths {
				if handles[i], err = p.RequestThumbnail(ctx, path, size, t, force); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}

			failed := 0
			for i, h := range handles {
				if err := writeThumbnail(ctx, h, paths[i], out); err != nil {
					log.Error().Err(err).Str("path", paths[i]).Msg("no thumbnail")
					failed++
				}
			}
			stats := p.Stats()
			log.Info().Int("assets", len(paths)).Uint64("hits", stats.Hits).Uint64("misses", stats.Misses).Msg("done")
			if failed > 0 {
				return fmt.Errorf("%d of %d thumbnails failed", failed, len(paths))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&width, "width", 128, "thumbnail width in pixels")
	cmd.Flags().IntVar(&height, "height", 128, "thumbnail height in pixels")
	cmd.Flags().IntVar(&tier, "tier", 1, "1 for a file-only preview, 2 to import the asset")
	cmd.Flags().StringVarP(&out, "out", "o", ".", "output directory")
	cmd.Flags().BoolVar(&force, "force", false, "regenerate even when cached")
	return cmd
}

func writeThumbnail(ctx context.Context, h *assetpreview.Handle, path, outDir string) error {
	res, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		log.Warn().Err(w).Str("path", path).Msg("degraded preview")
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".png"
	dst := filepath.Join(outDir, name)
	if err := imaging.Save(res.Image, dst); err != nil {
		return fmt.Errorf("failed to save %s: %w", dst, err)
	}
	log.Info().
		Str("path", path).
		Str("out", dst).
		Str("tier", res.Tier.String()).
		Str("source", res.Source.String()).
		Bool("cached", res.Cached).
		Msg("thumbnail written")
	return nil
}

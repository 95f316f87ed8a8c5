package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gophersatwork/assetpreview"
	"github.com/gophersatwork/assetpreview/memhost"
)

const envPrefix = "ASSETPREVIEW"

func newRootCommand() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "assetpreview",
		Short:         "Generate previews and metadata for 3D scene assets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if file := v.GetString("config"); file != "" {
				v.SetConfigFile(file)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config %s: %w", file, err)
				}
			} else if err := v.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return fmt.Errorf("failed to read config: %w", err)
				}
			}
			return initializeLogger(v.GetString("log-level"))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default ./assetpreview.yaml)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("cache-dir", ".assetpreview", "directory of the persisted thumbnail cache")
	flags.Bool("no-host", false, "run without a host; tier-2 requests degrade to tier 1")
	flags.Duration("timeout", 30*time.Second, "timeout of a single tier-2 job")
	flags.Int("concurrency", 4, "number of tier-1 jobs run at once")

	v.SetConfigName("assetpreview")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.AddCommand(newThumbCommand(v), newMetaCommand(v), newPruneCommand(v))
	return rootCmd
}

// newPreviewer builds a Previewer from the resolved configuration.
func newPreviewer(v *viper.Viper) (*assetpreview.Previewer, error) {
	fs := afero.NewOsFs()
	var host assetpreview.Host
	if !v.GetBool("no-host") {
		host = memhost.New(fs)
	}
	return assetpreview.New(host,
		assetpreview.WithFs(fs),
		assetpreview.WithLogger(log.Logger),
		assetpreview.WithPersistDir(v.GetString("cache-dir")),
		assetpreview.WithJobTimeout(v.GetDuration("timeout")),
		assetpreview.WithTier1Concurrency(v.GetInt("concurrency")),
	)
}

func parseTier(n int) (assetpreview.Tier, error) {
	switch n {
	case 1:
		return assetpreview.Tier1, nil
	case 2:
		return assetpreview.Tier2, nil
	default:
		return 0, fmt.Errorf("tier must be 1 or 2, got %d", n)
	}
}

// expandArgs resolves each argument as a file or a pattern.
func expandArgs(args []string) ([]string, error) {
	fs := afero.NewOsFs()
	var paths []string
	for _, arg := range args {
		if !strings.ContainsAny(arg, "*?[") {
			paths = append(paths, arg)
			continue
		}
		matches, err := assetpreview.FindAssets(fs, arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", arg, err)
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

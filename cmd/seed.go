package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/driftline/pattern-cli/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed <materials.yaml>",
	Short: "Bulk-import canonical materials from a YAML file",
	Long:  "Loads a YAML list of {name, type} entries into the production material catalog. Existing entries are left untouched.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		var seeds []store.MaterialSeed
		if err := yaml.Unmarshal(data, &seeds); err != nil {
			return eris.Wrapf(err, "parse %s", args[0])
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		inserted, err := st.SeedMaterials(ctx, seeds)
		if err != nil {
			return eris.Wrap(err, "seed materials")
		}

		zap.L().Info("materials seeded",
			zap.Int("entries", len(seeds)),
			zap.Int64("inserted", inserted))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"utsushie/internal/catalog"
	"utsushie/internal/config"
)

// newScanCmd はストアを走査し、配信時と同じ順序と番号で一覧表示するコマンドを作成する
func newScanCmd(configPath *string) *cobra.Command {
	var store string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "ストア内の画像をカタログ順に一覧表示する",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if store != "" {
				cfg.Ingest.StoreDir = store
			}

			cat := catalog.New()
			if _, err := cat.Seed(cmd.Context(), cfg.Ingest.StoreDir, cfg.Ingest.Extensions); err != nil {
				return err
			}

			n := cat.Len()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tFROM_END\tCAPTURED_AT\tPATH")
			for i, rec := range cat.Snapshot() {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", i, i-n, rec.CapturedAt.Format(time.RFC3339), rec.Path)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&store, "store", "", "ストアディレクトリ")

	return cmd
}

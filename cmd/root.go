package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// NewRootCmd はutsushieのルートコマンドを作成する
func NewRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "utsushie",
		Short: "inboxに届いた静止画をMJPEGとして配信するサーバー",
		Long: `utsushie は撮影プロセスが inbox ディレクトリに置いた JPEG をストアへ取り込み、
撮影時刻順のカタログとして保持し、multipart/x-mixed-replace で配信します。`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env があれば読み込む (なければ無視)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML設定ファイルのパス")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newScanCmd(&configPath))

	return cmd
}

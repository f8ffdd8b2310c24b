package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"utsushie/internal/catalog"
	"utsushie/internal/config"
	"utsushie/internal/ingest"
	"utsushie/internal/journal"
	"utsushie/internal/notify"
	"utsushie/internal/server"
	"utsushie/internal/stream"
)

type serveFlags struct {
	host      string
	port      int
	inbox     string
	store     string
	interval  time.Duration
	adminPort int
	noAdmin   bool
	journal   string
	logLevel  string
}

func newServeCmd(configPath *string) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "取り込みパイプラインとMJPEG配信サーバーを起動する",
		Example: `  # デフォルト (ポート1111、./upload → ./capture)
  utsushie serve

  # ディレクトリとポートを指定
  utsushie serve --inbox /srv/upload --store /srv/capture --port 8554`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("設定の検証に失敗: %w", err)
			}

			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			if cfg.Log.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.host, "host", "", "ストリームサーバーのホスト (デフォルト: 0.0.0.0)")
	f.IntVarP(&flags.port, "port", "p", 0, "ストリームサーバーのポート (デフォルト: 1111)")
	f.StringVar(&flags.inbox, "inbox", "", "inboxディレクトリ")
	f.StringVar(&flags.store, "store", "", "ストアディレクトリ")
	f.DurationVar(&flags.interval, "interval", 0, "inboxの走査間隔")
	f.IntVar(&flags.adminPort, "admin-port", 0, "管理APIのポート (デフォルト: 8080)")
	f.BoolVar(&flags.noAdmin, "no-admin", false, "管理APIを起動しない")
	f.StringVar(&flags.journal, "journal", "", "取り込み履歴ファイル (bbolt)")
	f.StringVar(&flags.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")

	return cmd
}

// apply はコマンドラインオプションで設定を上書きする
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Stream.Host = f.host
	}
	if changed("port") {
		cfg.Stream.Port = f.port
	}
	if changed("inbox") {
		cfg.Ingest.InboxDir = f.inbox
	}
	if changed("store") {
		cfg.Ingest.StoreDir = f.store
	}
	if changed("interval") {
		cfg.Ingest.Interval = f.interval
	}
	if changed("admin-port") {
		cfg.Admin.Port = f.adminPort
	}
	if f.noAdmin {
		cfg.Admin.Enabled = false
	}
	if changed("journal") {
		cfg.Journal.Path = f.journal
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
}

// run は全コンポーネントを組み立てて起動し、コンテキストのキャンセルまで待つ
func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.CheckDirectories(); err != nil {
		return err
	}

	cat := catalog.New()
	seeded, err := cat.Seed(ctx, cfg.Ingest.StoreDir, cfg.Ingest.Extensions)
	if err != nil {
		return err
	}
	slog.Info("ストアの既存画像をカタログに登録しました", "store", cfg.Ingest.StoreDir, "images", seeded)

	var opts []ingest.Option
	deps := server.Deps{Catalog: cat}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, ingest.WithJournal(j))
		deps.Journal = j
	}

	if cfg.Notify.Broker != "" {
		pub, err := notify.NewMQTTPublisher(ctx, notify.MQTTConfig{
			Broker:   cfg.Notify.Broker,
			Topic:    cfg.Notify.Topic,
			ClientID: cfg.Notify.ClientID,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, ingest.WithPublisher(pub))
	}

	pipeline := ingest.New(ingest.Config{
		InboxDir:   cfg.Ingest.InboxDir,
		StoreDir:   cfg.Ingest.StoreDir,
		Interval:   cfg.Ingest.Interval,
		Extensions: cfg.Ingest.Extensions,
	}, cat, opts...)
	deps.Ingest = pipeline

	handler := stream.NewHandler(cat, stream.HandlerConfig{
		ReadTimeout:  cfg.Stream.ReadTimeout,
		WriteTimeout: cfg.Stream.WriteTimeout,
		MaxParts:     cfg.Stream.MaxParts,
	})
	streamServer := stream.NewServer(cfg.StreamAddress(), handler)
	if err := streamServer.Listen(ctx); err != nil {
		return err
	}
	deps.Stream = streamServer

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeline.Run(gctx) })
	g.Go(func() error { return streamServer.Serve(gctx) })
	if cfg.Admin.Enabled {
		admin := server.New(cfg, deps)
		g.Go(func() error { return admin.Start(gctx) })
	}

	slog.Info("utsushie を起動しました", "stream", cfg.StreamAddress(), "admin_enabled", cfg.Admin.Enabled)
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := streamServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ストリームサーバーの停止が完了しませんでした", "error", err)
	}

	return runErr
}

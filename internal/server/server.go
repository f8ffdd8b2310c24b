package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"utsushie/internal/catalog"
	"utsushie/internal/config"
	"utsushie/internal/ingest"
	"utsushie/internal/journal"
)

// IngestStats は取り込みパイプラインの統計を提供する
type IngestStats interface {
	Stats() ingest.Stats
}

// StreamStats はストリームサーバーの接続状況を提供する
type StreamStats interface {
	ActiveConnections() int64
	AcceptedConnections() uint64
}

// JournalReader は取り込み履歴の読み込み側
type JournalReader interface {
	Recent(limit int) ([]journal.Entry, error)
	Count() (int, error)
}

// Deps は管理APIが参照する依存関係
type Deps struct {
	Catalog *catalog.Catalog
	Ingest  IngestStats
	Stream  StreamStats
	Journal JournalReader // nilならジャーナル無効
}

// Server は管理用HTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	deps       Deps
	engine     *gin.Engine
	httpServer *http.Server
	startedAt  time.Time

	mu       sync.Mutex
	listener net.Listener
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, deps Deps) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		config:    cfg,
		deps:      deps,
		engine:    engine,
		startedAt: time.Now(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.AdminAddress(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/images", s.handleImages)
	api.GET("/images/:index", s.handleImage)
	api.GET("/journal", s.handleJournal)
}

// Handler はテストなどで使うhttp.Handlerを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr はリッスン中のアドレスを返す (未起動ならnil)
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start はサーバーを起動し、コンテキストがキャンセルされるとシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("管理APIの起動に失敗: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// シャットダウン用のチャンネル
	serveErr := make(chan error, 1)

	go func() {
		slog.Info("管理APIを起動しています", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("管理APIの実行に失敗: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-serveErr:
		return err
	}
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	slog.Info("管理APIをシャットダウンしています")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("管理APIのシャットダウンに失敗: %w", err)
	}

	slog.Info("管理APIが正常にシャットダウンされました")
	return nil
}

// requestLogger はginのアクセスログをslogへ流す
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("管理APIリクエスト",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

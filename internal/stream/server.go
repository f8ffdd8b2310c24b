package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Server はTCP接続を受け付け、接続ごとにゴルーチンでHandlerを起動する
// 同時接続数の上限は設けない
type Server struct {
	addr    string
	handler *Handler

	mu       sync.Mutex
	listener net.Listener

	wg       sync.WaitGroup
	active   atomic.Int64
	accepted atomic.Uint64
}

// NewServer は新しいServerを作成する
func NewServer(addr string, handler *Handler) *Server {
	return &Server{addr: addr, handler: handler}
}

// Listen は設定されたアドレスでソケットを開く
func (s *Server) Listen(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("ストリームポートのリッスンに失敗 (%s): %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("ストリームサーバーがリッスンを開始しました", "addr", ln.Addr().String())
	return nil
}

// Addr はリッスン中のアドレスを返す (未リッスンならnil)
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve はコンテキストがキャンセルされるかリスナーが閉じられるまで接続を受け付ける
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("リスナーが開かれていません")
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// EMFILEなどは一時的なものとして待ってから再試行する
			backoff = nextBackoff(backoff)
			slog.Warn("接続の受け付けに失敗しました。再試行します", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.accepted.Add(1)
		s.active.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.active.Add(-1)

			log := slog.With("conn", uuid.NewString(), "remote", conn.RemoteAddr().String())
			log.Info("接続を受け付けました")
			s.handler.Serve(conn, log)
		}()
	}
}

// Shutdown はリスナーを閉じ、処理中の接続の終了を待つ
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("ストリームサーバーを停止しました")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("処理中の接続 %d 件の終了待ちがタイムアウト: %w", s.active.Load(), ctx.Err())
	}
}

// ActiveConnections は処理中の接続数を返す
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// AcceptedConnections は受け付けた接続の累計を返す
func (s *Server) AcceptedConnections() uint64 {
	return s.accepted.Load()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

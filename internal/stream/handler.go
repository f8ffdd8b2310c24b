package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"utsushie/internal/catalog"
)

const (
	// Boundary は各JPEGパートを区切る境界文字列
	Boundary = "--This_is_a_boundary_for_each_jpeg_image"

	// DefaultMaxParts は1リクエストで送るパート数の上限
	DefaultMaxParts = 11

	requestBufferSize = 4096
)

var (
	streamHeader = []byte("HTTP/1.1 200 OK\r\n" +
		"Content-Type: multipart/x-mixed-replace; boundary=" + Boundary + "\r\n")
	partHeader = []byte("\r\n" + Boundary + "\r\n" +
		"Content-Type: image/jpeg\r\n\r\n")
	closingBoundary = []byte("\r\n" + Boundary + "--")

	postResponse       = []byte("HTTP/1.1 200 OK\r\n\r\n<html><body><p>JUST FOR TESTING</p></body></html>")
	badRequestResponse = []byte("HTTP/1.1 400 Bad Request\r\n\r\n")
)

var (
	// ErrNoFrame は配信できるフレームがないことを表す
	ErrNoFrame = errors.New("配信可能なフレームがありません")

	errMalformedRequest = errors.New("不正なリクエスト行")
)

// Catalog はハンドラが参照するカタログの読み込み側
type Catalog interface {
	Len() int
	Get(index int) catalog.Record
}

// HandlerConfig はリクエストハンドラの設定
type HandlerConfig struct {
	ReadTimeout  time.Duration // リクエスト読み込みのタイムアウト (0で無効)
	WriteTimeout time.Duration // 1回の書き込みごとのタイムアウト (0で無効)
	MaxParts     int           // 送信するパート数の上限
}

// Handler は1接続ごとのリクエストを処理する
type Handler struct {
	catalog Catalog
	cfg     HandlerConfig
}

// NewHandler は新しいHandlerを作成する
func NewHandler(cat Catalog, cfg HandlerConfig) *Handler {
	if cfg.MaxParts <= 0 {
		cfg.MaxParts = DefaultMaxParts
	}
	return &Handler{catalog: cat, cfg: cfg}
}

type request struct {
	method  string
	path    string
	version string
}

// Serve は接続を処理し、どの経路でも最後に接続を閉じる
func (h *Handler) Serve(conn net.Conn, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("接続処理中にパニックが発生しました", "panic", r, "stack", string(debug.Stack()))
		}
		if err := conn.Close(); err != nil {
			log.Debug("接続のクローズに失敗", "error", err)
		}
		log.Debug("接続を閉じました")
	}()

	if err := h.serve(conn, log); err != nil {
		log.Warn("接続処理でエラーが発生しました", "error", err)
	}
}

func (h *Handler) serve(conn net.Conn, log *slog.Logger) error {
	if h.cfg.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
			return err
		}
	}

	buf := make([]byte, requestBufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		// 何も届かない接続はエラー扱いしない
		log.Debug("リクエストを受信せずに終了します", "error", err)
		return nil
	}

	req, err := parseRequestLine(buf[:n])
	if err != nil {
		log.Info("不正なリクエストを拒否しました", "error", err)
		return h.write(conn, badRequestResponse)
	}
	log.Info("リクエストを受信しました", "method", req.method, "path", req.path, "version", req.version)

	switch req.method {
	case "GET":
		return h.stream(conn, req.path, log)
	case "POST":
		return h.write(conn, postResponse)
	default:
		return h.write(conn, badRequestResponse)
	}
}

// parseRequestLine は先頭行だけを "METHOD PATH VERSION" として解釈する
func parseRequestLine(data []byte) (request, error) {
	if !utf8.Valid(data) {
		return request{}, fmt.Errorf("%w: UTF-8ではありません", errMalformedRequest)
	}
	line := string(data)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return request{}, fmt.Errorf("%w: %q", errMalformedRequest, line)
	}
	return request{method: fields[0], path: fields[1], version: fields[2]}, nil
}

// stream はmultipart/x-mixed-replaceで最大MaxParts枚のJPEGを送る
func (h *Handler) stream(conn net.Conn, path string, log *slog.Logger) error {
	if err := h.write(conn, streamHeader); err != nil {
		return fmt.Errorf("レスポンスヘッダーの送信に失敗: %w", err)
	}

	requested, specified := RequestedIndex(path)

	sent := 0
	for sent < h.cfg.MaxParts {
		jpeg, err := h.frame(requested, specified)
		if err != nil {
			if !errors.Is(err, ErrNoFrame) {
				log.Warn("フレームの読み込みに失敗しました。配信を終了します", "error", err)
			}
			break
		}

		if err := h.write(conn, partHeader, jpeg); err != nil {
			return fmt.Errorf("パート %d の送信に失敗: %w", sent, err)
		}
		sent++
	}

	if err := h.write(conn, closingBoundary); err != nil {
		return fmt.Errorf("終端境界の送信に失敗: %w", err)
	}
	log.Info("配信を完了しました", "parts", sent)
	return nil
}

// frame は要求番号を毎回解決し直し、対応するファイルを読み込む
// カタログのロックはLen/Getの間だけ保持され、ファイルI/O中は保持しない
func (h *Handler) frame(requested int, specified bool) ([]byte, error) {
	index, ok := Resolve(requested, specified, h.catalog.Len())
	if !ok {
		return nil, ErrNoFrame
	}
	rec := h.catalog.Get(index)

	data, err := os.ReadFile(rec.Path)
	if err != nil {
		return nil, fmt.Errorf("画像ファイルの読み込みに失敗 (%s): %w", rec.Path, err)
	}
	return data, nil
}

// write は書き込みタイムアウトを設定してからまとめて送信する
func (h *Handler) write(conn net.Conn, chunks ...[]byte) error {
	if h.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	bufs := net.Buffers(chunks)
	_, err := bufs.WriteTo(conn)
	return err
}

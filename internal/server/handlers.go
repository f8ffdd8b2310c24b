package server

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"utsushie/internal/ingest"
	"utsushie/internal/journal"
	"utsushie/internal/stream"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// HealthResponse はヘルスチェックの応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse はシステム状態の応答
type StatusResponse struct {
	Status        string        `json:"status"`
	Images        int           `json:"images"`
	StreamAddress string        `json:"stream_address"`
	ActiveConns   int64         `json:"active_connections"`
	AcceptedConns uint64        `json:"accepted_connections"`
	Ingest        *ingest.Stats `json:"ingest,omitempty"`
	Journal       *int          `json:"journal_entries,omitempty"`
	Uptime        string        `json:"uptime"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ImageInfo はカタログ内の1枚の情報
type ImageInfo struct {
	Index      int       `json:"index"`
	Path       string    `json:"path"`
	CapturedAt time.Time `json:"captured_at"`
}

// ImagesResponse はカタログ一覧の応答
type ImagesResponse struct {
	Images []ImageInfo `json:"images"`
}

// JournalResponse は取り込み履歴の応答
type JournalResponse struct {
	Entries []journal.Entry `json:"entries"`
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// handleIndex はストリームを表示するビューアページ
func (s *Server) handleIndex(c *gin.Context) {
	data := indexData{
		Count:      s.deps.Catalog.Len(),
		StreamPort: s.config.Stream.Port,
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := indexTemplate.Execute(c.Writer, data); err != nil {
		_ = c.Error(err)
	}
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はシステム状態取得エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	response := StatusResponse{
		Status:        "running",
		Images:        s.deps.Catalog.Len(),
		StreamAddress: s.config.StreamAddress(),
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
		Timestamp:     time.Now(),
	}
	if s.deps.Stream != nil {
		response.ActiveConns = s.deps.Stream.ActiveConnections()
		response.AcceptedConns = s.deps.Stream.AcceptedConnections()
	}
	if s.deps.Ingest != nil {
		stats := s.deps.Ingest.Stats()
		response.Ingest = &stats
	}
	if s.deps.Journal != nil {
		if n, err := s.deps.Journal.Count(); err != nil {
			slog.Warn("取り込み履歴の件数取得に失敗しました", "error", err)
		} else {
			response.Journal = &n
		}
	}

	c.JSON(http.StatusOK, response)
}

// handleImages はカタログ一覧を撮影時刻順に返す
func (s *Server) handleImages(c *gin.Context) {
	records := s.deps.Catalog.Snapshot()
	images := make([]ImageInfo, 0, len(records))
	for i, rec := range records {
		images = append(images, ImageInfo{Index: i, Path: rec.Path, CapturedAt: rec.CapturedAt})
	}

	c.JSON(http.StatusOK, ImagesResponse{Images: images})
}

// handleImage は指定番号の画像を1枚返す
// 番号の解釈はストリームと同じ (負の番号は末尾から、範囲外や数値以外は最新)
func (s *Server) handleImage(c *gin.Context) {
	requested, specified := stream.RequestedIndex(c.Param("index"))
	index, ok := stream.Resolve(requested, specified, s.deps.Catalog.Len())
	if !ok {
		c.JSON(http.StatusNotFound, newError("no_images", "取り込み済みの画像がありません", nil))
		return
	}

	rec := s.deps.Catalog.Get(index)
	if _, err := os.Stat(rec.Path); err != nil {
		details := err.Error()
		c.JSON(http.StatusNotFound, newError("image_not_found", "画像ファイルが見つかりません", &details))
		return
	}

	c.Header("X-Image-Index", strconv.Itoa(index))
	c.Header("Cache-Control", "no-cache")
	c.File(rec.Path)
}

// handleJournal は取り込み履歴を新しい順に返す
func (s *Server) handleJournal(c *gin.Context) {
	if s.deps.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, newError("journal_disabled", journal.ErrDisabled.Error(), nil))
		return
	}

	limit := defaultJournalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, newError("invalid_limit", "limit には正の整数を指定してください", nil))
			return
		}
		limit = min(n, maxJournalLimit)
	}

	entries, err := s.deps.Journal.Recent(limit)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, journal.ErrDisabled) {
			status = http.StatusServiceUnavailable
		}
		details := err.Error()
		c.JSON(status, newError("journal_error", "取り込み履歴の取得に失敗しました", &details))
		return
	}

	c.JSON(http.StatusOK, JournalResponse{Entries: entries})
}

// newError はエラー応答を作成する
func newError(code, message string, details *string) ErrorResponse {
	return ErrorResponse{
		Error:     code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	}
}

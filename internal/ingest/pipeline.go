// Package ingest はinboxディレクトリを定期的に走査し、画像をストアへ移してカタログに登録する
//
// 責務:
//   - inboxの一覧取得と拡張子によるふるい分け
//   - 対象画像のストアへの移動 (同名)、それ以外の削除
//   - 1パス分のレコードをまとめてカタログへ追加
//   - 取り込み履歴の記録と外部通知 (任意)
//
// 仕様:
//   - 個別ファイルの移動・削除の失敗はログに残して次へ進む
//   - 一覧取得の失敗は同じ間隔の後に再試行する
//   - コンテキストがキャンセルされるまで終了しない
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"utsushie/internal/catalog"
	"utsushie/internal/journal"
	"utsushie/internal/notify"
)

// DefaultInterval は走査間隔のデフォルト
const DefaultInterval = 1 * time.Second

// Config は取り込みパイプラインの設定
type Config struct {
	InboxDir   string
	StoreDir   string
	Interval   time.Duration
	Extensions []string
}

// Recorder は取り込み履歴の保存先
type Recorder interface {
	Append(e journal.Entry) error
}

// Stats は取り込みパイプラインの統計情報
type Stats struct {
	Passes       uint64    `json:"passes"`
	Accepted     uint64    `json:"accepted"`
	Discarded    uint64    `json:"discarded"`
	Failures     uint64    `json:"failures"`
	ListFailures uint64    `json:"list_failures"`
	LastPass     time.Time `json:"last_pass"`
}

// Option はPipelineの任意設定
type Option func(*Pipeline)

// WithJournal は取り込み履歴の保存先を設定する
func WithJournal(r Recorder) Option {
	return func(p *Pipeline) { p.journal = r }
}

// WithPublisher は取り込みイベントの通知先を設定する
func WithPublisher(pub notify.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// Pipeline はinboxからカタログへの取り込みを行う
type Pipeline struct {
	cfg       Config
	catalog   *catalog.Catalog
	journal   Recorder
	publisher notify.Publisher

	mu    sync.RWMutex
	stats Stats
}

// New は新しいPipelineを作成する
func New(cfg Config, cat *catalog.Catalog, opts ...Option) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = catalog.DefaultExtensions
	}

	p := &Pipeline{
		cfg:       cfg,
		catalog:   cat,
		publisher: notify.Nop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run はコンテキストがキャンセルされるまで走査を繰り返す
func (p *Pipeline) Run(ctx context.Context) error {
	slog.Info("取り込みパイプラインを開始します",
		"inbox", p.cfg.InboxDir, "store", p.cfg.StoreDir, "interval", p.cfg.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("取り込みパイプラインを停止しました")
			return nil
		case <-timer.C:
			if _, err := p.ScanOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("inboxの走査に失敗しました。次の間隔で再試行します", "error", err)
			}
			timer.Reset(p.cfg.Interval)
		}
	}
}

// ScanOnce はinboxを1回走査し、カタログに追加した件数を返す
func (p *Pipeline) ScanOnce(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(p.cfg.InboxDir)
	if err != nil {
		p.updateStats(func(s *Stats) { s.ListFailures++ })
		return 0, fmt.Errorf("inboxの一覧取得に失敗: %w", err)
	}

	staged := make([]catalog.Record, 0, len(entries))
	sizes := make([]int64, 0, len(entries))
	var discarded, failures uint64

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			break
		}

		name := entry.Name()
		src := filepath.Join(p.cfg.InboxDir, name)

		if entry.IsDir() || !catalog.HasImageExt(name, p.cfg.Extensions) {
			if err := os.Remove(src); err != nil {
				slog.Warn("対象外ファイルの削除に失敗", "path", src, "error", err)
				failures++
				continue
			}
			slog.Debug("対象外ファイルを削除しました", "path", src)
			discarded++
			continue
		}

		dst := filepath.Join(p.cfg.StoreDir, name)
		if err := moveFile(src, dst); err != nil {
			slog.Warn("画像の移動に失敗", "src", src, "dst", dst, "error", err)
			failures++
			continue
		}

		info, err := os.Stat(dst)
		if err != nil {
			slog.Warn("移動後の画像情報の取得に失敗", "path", dst, "error", err)
			failures++
			continue
		}

		staged = append(staged, catalog.Record{Path: dst, CapturedAt: info.ModTime()})
		sizes = append(sizes, info.Size())
	}

	for _, rec := range staged {
		slog.Info("画像を取り込みました", "path", rec.Path, "captured_at", rec.CapturedAt)
	}
	p.catalog.AppendAll(staged)

	now := time.Now()
	for i, rec := range staged {
		p.record(ctx, rec, sizes[i], now)
	}

	p.updateStats(func(s *Stats) {
		s.Passes++
		s.Accepted += uint64(len(staged))
		s.Discarded += discarded
		s.Failures += failures
		s.LastPass = now
	})

	return len(staged), ctx.Err()
}

// Stats は統計情報のコピーを返す
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

func (p *Pipeline) updateStats(fn func(*Stats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.stats)
}

// record は履歴の保存と通知を行う。失敗してもカタログには影響しない
func (p *Pipeline) record(ctx context.Context, rec catalog.Record, size int64, ingestedAt time.Time) {
	id := uuid.NewString()
	name := filepath.Base(rec.Path)

	if p.journal != nil {
		err := p.journal.Append(journal.Entry{
			ID:         id,
			Name:       name,
			Path:       rec.Path,
			Size:       size,
			CapturedAt: rec.CapturedAt,
			IngestedAt: ingestedAt,
		})
		if err != nil {
			slog.Warn("取り込み履歴の保存に失敗", "path", rec.Path, "error", err)
		}
	}

	err := p.publisher.Publish(ctx, notify.Event{
		ID:         id,
		Name:       name,
		Path:       rec.Path,
		Size:       size,
		CapturedAt: rec.CapturedAt,
		IngestedAt: ingestedAt,
	})
	if err != nil {
		slog.Warn("取り込み通知の送信に失敗", "path", rec.Path, "error", err)
	}
}

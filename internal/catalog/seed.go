package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtensions は取り込み対象とする拡張子のデフォルト
var DefaultExtensions = []string{".jpg"}

// HasImageExt はファイル名が対象拡張子で終わるかを大文字小文字を区別せずに判定する
func HasImageExt(name string, exts []string) bool {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// Scan はストアディレクトリを1回走査し、対象画像のレコードを返す
// 個別ファイルのstat失敗はログに残してスキップする
func Scan(ctx context.Context, dir string, exts []string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ストアディレクトリの読み込みに失敗: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !HasImageExt(entry.Name(), exts) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			slog.Warn("画像ファイルの情報取得に失敗", "path", path, "error", err)
			continue
		}
		records = append(records, Record{Path: path, CapturedAt: info.ModTime()})
	}

	return records, nil
}

// Seed はストアディレクトリの既存画像をカタログに投入し、投入件数を返す
func (c *Catalog) Seed(ctx context.Context, dir string, exts []string) (int, error) {
	records, err := Scan(ctx, dir, exts)
	if err != nil {
		return 0, err
	}
	c.AppendAll(records)
	return len(records), nil
}

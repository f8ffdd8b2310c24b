// Package notify は画像の取り込みイベントを外部へ通知する
package notify

import (
	"context"
	"encoding/json"
	"time"
)

// Event は1枚の画像が取り込まれたことを表す通知
type Event struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	CapturedAt time.Time `json:"captured_at"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Publisher は取り込みイベントの送信先
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop は何も送信しないPublisher
type Nop struct{}

// Publish は何もしない
func (Nop) Publish(context.Context, Event) error { return nil }

// Close は何もしない
func (Nop) Close() error { return nil }

// encode は通知のペイロードを生成する
func encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Package journal は取り込んだ画像の履歴をbboltに永続化する
//
// カタログ自体は揮発性で再起動時にストアから再構築されるため、
// ここでは「いつ何を受け入れたか」の監査用ログのみを扱う。
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var bucketEntries = []byte("entries")

// ErrDisabled はジャーナルが設定されていない場合に返る
var ErrDisabled = errors.New("ジャーナルは無効です")

// Entry は1件の取り込み履歴
type Entry struct {
	ID         string    `msgpack:"id" json:"id"`
	Name       string    `msgpack:"name" json:"name"`
	Path       string    `msgpack:"path" json:"path"`
	Size       int64     `msgpack:"size" json:"size"`
	CapturedAt time.Time `msgpack:"captured_at" json:"captured_at"`
	IngestedAt time.Time `msgpack:"ingested_at" json:"ingested_at"`
}

// Journal はbboltで裏付けられた追記専用ログ
type Journal struct {
	db *bbolt.DB
}

// Open はジャーナルファイルを開く (存在しなければ作成する)
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("ジャーナルのオープンに失敗: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ジャーナルの初期化に失敗: %w", err)
	}

	return &Journal{db: db}, nil
}

// Append は履歴を1件追記する
func (j *Journal) Append(e Entry) error {
	if j == nil {
		return ErrDisabled
	}
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("履歴のエンコードに失敗: %w", err)
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// Recent は新しい順に最大limit件の履歴を返す
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if j == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return []Entry{}, nil
	}

	entries := make([]Entry, 0, limit)
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var e Entry
			if err := msgpack.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("履歴のデコードに失敗 (key=%d): %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Count は保存されている履歴の件数を返す
func (j *Journal) Count() (int, error) {
	if j == nil {
		return 0, ErrDisabled
	}
	var n int
	err := j.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketEntries).Stats().KeyN
		return nil
	})
	return n, err
}

// Close はジャーナルを閉じる
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

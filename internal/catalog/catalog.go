package catalog

import (
	"sort"
	"sync"
	"time"
)

// Record はストアに保存された1枚の静止画を表す
type Record struct {
	Path       string    `json:"path"`        // ストア内のファイルパス
	CapturedAt time.Time `json:"captured_at"` // 移動後に取得した更新時刻
}

// Catalog は撮影時刻順に並んだレコードの集合
type Catalog struct {
	mu      sync.Mutex
	records []Record
}

// New は空のCatalogを作成する
func New() *Catalog {
	return &Catalog{}
}

// Len は現在のレコード数を返す
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Get は指定位置のレコードを返す
// index は [0, Len()) に収まっていなければならない
func (c *Catalog) Get(index int) Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[index]
}

// Append はレコードを追加し、撮影時刻の昇順を維持する
func (c *Catalog) Append(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 同時刻のレコードの後ろに挿入する
	i := sort.Search(len(c.records), func(i int) bool {
		return c.records[i].CapturedAt.After(r.CapturedAt)
	})
	c.records = append(c.records, Record{})
	copy(c.records[i+1:], c.records[i:])
	c.records[i] = r
}

// AppendAll はバッチ内の順序を保ったままレコードを追加する
func (c *Catalog) AppendAll(records []Record) {
	for _, r := range records {
		c.Append(r)
	}
}

// Snapshot は現在のレコードのコピーを返す
func (c *Catalog) Snapshot() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

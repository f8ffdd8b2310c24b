package journal

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("ジャーナルのオープンに失敗しました: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTestJournal(t)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := Entry{
			ID:         fmt.Sprintf("id-%d", i),
			Name:       fmt.Sprintf("%d.jpg", i),
			Path:       fmt.Sprintf("/store/%d.jpg", i),
			Size:       int64(100 + i),
			CapturedAt: base.Add(time.Duration(i) * time.Second),
			IngestedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := j.Append(e); err != nil {
			t.Fatalf("追記に失敗しました: %v", err)
		}
	}

	entries, err := j.Recent(3)
	if err != nil {
		t.Fatalf("Recent に失敗しました: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("件数が一致しません: got %d, want 3", len(entries))
	}
	for i, want := range []string{"id-4", "id-3", "id-2"} {
		if entries[i].ID != want {
			t.Errorf("index %d: got %s, want %s", i, entries[i].ID, want)
		}
	}
	if !entries[0].CapturedAt.Equal(base.Add(4 * time.Second)) {
		t.Errorf("撮影時刻が復元されていません: %v", entries[0].CapturedAt)
	}
	if entries[0].Size != 104 {
		t.Errorf("サイズが復元されていません: %d", entries[0].Size)
	}

	n, err := j.Count()
	if err != nil || n != 5 {
		t.Errorf("Count = %d, %v; want 5", n, err)
	}
}

func TestRecentLimit(t *testing.T) {
	j := openTestJournal(t)
	if err := j.Append(Entry{ID: "only"}); err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name  string
		limit int
		want  int
	}{
		{"上限ゼロ", 0, 0},
		{"負の上限", -1, 0},
		{"件数より大きい上限", 10, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := j.Recent(tc.limit)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != tc.want {
				t.Errorf("got %d, want %d", len(entries), tc.want)
			}
		})
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append(Entry{ID: "persisted"}); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	entries, err := j.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "persisted" {
		t.Errorf("再オープン後に履歴が失われています: %+v", entries)
	}
}

func TestNilJournalIsDisabled(t *testing.T) {
	var j *Journal
	if err := j.Append(Entry{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("Append: got %v, want ErrDisabled", err)
	}
	if _, err := j.Recent(1); !errors.Is(err, ErrDisabled) {
		t.Errorf("Recent: got %v, want ErrDisabled", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

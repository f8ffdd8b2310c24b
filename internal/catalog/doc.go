// Package catalog は取り込み済み静止画の時刻順カタログを管理する
//
// # 責務
// - 撮影時刻 (CapturedAt) の昇順で並んだ画像レコードの保持
// - 取り込みパイプライン (単一の書き込み側) と配信ハンドラ (複数の読み込み側) の排他制御
// - 起動時のストアディレクトリ走査による初期投入
//
// # 仕様
// - Len / Get / Append は単一のミューテックスで互いに排他される
// - Append 後も常に昇順が保たれる (同時刻のレコードは追加順)
// - 同一パスの重複は許容する
// - レコードは削除されない
// - ロック中にファイルI/Oやネットワークは行わない
package catalog

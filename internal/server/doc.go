// Package server は管理用のHTTP APIを提供します。
//
// MJPEG配信そのものは stream パッケージが生のTCPで行い、
// このパッケージはカタログや取り込み状況の参照用の窓口を担当します。
//
// 責務:
//   - ヘルスチェックと稼働状況の返却
//   - カタログの一覧と単一フレームの取得
//   - 取り込み履歴 (ジャーナル) の参照
//   - ストリームを表示するビューアページの配信
//
// 仕様:
//   - ginを使用
//   - カタログは読み込みのみ行う
//   - 単一フレームの番号解決はストリームと同じ規則に従う
//   - グレースフルシャットダウンに対応
package server

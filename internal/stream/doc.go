// Package stream は生のTCP上で最小限のHTTPを話し、カタログの画像をMJPEGとして配信する
//
// 責務:
//   - リッスンソケットの管理と接続ごとのゴルーチン起動 (Server)
//   - リクエスト行の解釈と GET / POST / その他 の振り分け (Handler)
//   - 要求フレーム番号の解決 (Resolve)
//
// 仕様:
//   - リクエストは1回だけ最大4096バイト読み込み、先頭行のみ使用する
//   - GET は multipart/x-mixed-replace で最大11パートを送って閉じる
//   - フレーム番号はパートごとに解決し直すため、配信中の取り込みで対象が変わりうる
//   - 負の番号は末尾から数え、範囲外は最新フレームに丸める
//   - どの経路でも接続は必ず閉じられ、パニックは接続内で回収される
//   - 読み込み・書き込みのタイムアウトを設定できる
package stream

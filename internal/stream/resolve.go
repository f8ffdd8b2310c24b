package stream

import (
	"strconv"
	"strings"
)

// RequestedIndex はリクエストパスの最後の "/" 以降を要求フレーム番号として解釈する
// 空または整数でない場合は ok=false (最新フレームを意味する)
func RequestedIndex(path string) (index int, ok bool) {
	seg := path[strings.LastIndex(path, "/")+1:]
	if seg == "" {
		return 0, false
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Resolve は要求フレーム番号をカタログ上の絶対位置に変換する
//
//   - n == 0 のときはフレームなし (ok=false)
//   - 指定なし、n 以上、-n 未満のときは最新 (n-1)
//   - 負の値は末尾から数える (requested + n)
//   - それ以外はそのまま
func Resolve(requested int, specified bool, n int) (index int, ok bool) {
	if n <= 0 {
		return 0, false
	}
	switch {
	case !specified, requested >= n, requested < -n:
		return n - 1, true
	case requested < 0:
		return requested + n, true
	default:
		return requested, true
	}
}

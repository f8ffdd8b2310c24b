//go:build windows

package stream

import (
	"syscall"
)

// Windows の SO_REUSEADDR は使用中ポートの横取りを許してしまうため設定しない
func reuseAddrControl(_, _ string, _ syscall.RawConn) error {
	return nil
}

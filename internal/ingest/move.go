package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// moveFile はsrcをdstへ移動する
// 別ファイルシステム間ではコピーしてから元ファイルを削除する
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	return copyAndRemove(src, dst)
}

func copyAndRemove(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("コピーに失敗: %w", err)
	}
	if err = out.Close(); err != nil {
		return err
	}
	// 更新時刻を撮影時刻として使うため引き継ぐ
	if err = os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return err
	}

	return os.Remove(src)
}

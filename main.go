package main

import (
	"context"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"

	"utsushie/cmd"
)

const version = "0.1.0"

func main() {
	root := cmd.NewRootCmd()

	// SIGINT/SIGTERM でコンテキストがキャンセルされ、各コンポーネントが停止する
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		os.Exit(1)
	}
}

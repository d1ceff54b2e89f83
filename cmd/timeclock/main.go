// Command timeclock は勤怠打刻APIサーバーとバックグラウンドワーカーを起動する。
//
// 使い方:
//
//	timeclock [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/timeclock/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

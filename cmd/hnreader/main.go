// Command hnreader はHacker Newsリーダーのキャッシュ付きAPIサーバーとワーカーを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/hnreader/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "hnreader: %v\n", err)
		os.Exit(1)
	}
}

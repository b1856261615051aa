// Command jsbridge runs either end of the bridge: `serve` hosts renderers
// over WebSocket, `eval` drives one as a host, and `journal` prints
// recorded traffic.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

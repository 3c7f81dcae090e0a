// esol-monitor: terminal console for supervising live practice sessions
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/teslashibe/go-esol/pkg/monitor"
)

var url = flag.String("url", "ws://localhost:8080/ws/monitor", "Monitor endpoint of an esol-partner server")

func main() {
	flag.Parse()

	if err := monitor.Run(*url); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// gpslink holds a line-protocol link to a GPS-less microcontroller peripheral
// and serves it position fixes on request and periodically.
//
// Usage:
//
//	gpslink run --config ./gpslink.yaml
//	gpslink send --config ./gpslink.yaml "LED ON"
//	gpslink version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

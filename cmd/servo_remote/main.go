// Command servo_remote drives a serial pan/tilt servo controller from a
// browser, a TCP control port or the command line.
package main

import "log"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

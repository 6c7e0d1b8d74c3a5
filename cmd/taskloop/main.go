// Command taskloop plans goals into task trees and drives them through the
// execute, observe, reflect and decide loop.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

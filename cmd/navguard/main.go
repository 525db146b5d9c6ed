// navguard decides what happens to every navigation of an embedded browsing
// surface and writes each decision to a hash-chained audit log.
package main

import "github.com/ppiankov/navguard/internal/cli"

func main() {
	cli.Execute()
}

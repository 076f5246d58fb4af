// Command nightskip watches a game world over MQTT and skips the night once
// enough players have been asleep for long enough.
package main

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	Execute()
}

// Command glucowatcher polls a Dexcom Share account for glucose readings and
// raises audio and Telegram alerts when values leave the configured range.
package main

import "glucose-alerts/internal/cli"

func main() {
	cli.Execute()
}

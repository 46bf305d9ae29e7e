// Command lanscout is the LAN asset discovery daemon and its CLI.
package main

import "github.com/lanscout/lanscout/cmd/cli"

func main() {
	cli.Execute()
}

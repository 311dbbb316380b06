// Command broker runs the privileged-operation broker.
package main

import "github.com/sentinel-gate/broker/cmd/broker/cmd"

func main() {
	cmd.Execute()
}

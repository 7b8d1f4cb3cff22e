// Command cosim runs co-simulation scenarios against a simulated memory.
package main

import "github.com/sarchlab/cosim/cosim/cmd"

func main() {
	cmd.Execute()
}

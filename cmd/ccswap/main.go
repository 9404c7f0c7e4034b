// ccswap supervises the claude CLI across multiple provider accounts,
// swapping to the one with the most quota headroom whenever a session
// hits its rate limit.
package main

import (
	"os"

	"github.com/ccswap/ccswap/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

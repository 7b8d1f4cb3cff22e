package scenario

import (
	"fmt"
	"sort"

	"github.com/sarchlab/cosim/bridge"
)

// Main is the software actor of one node.
type Main func(n *bridge.Node) error

// Config parametrizes the scenarios that take parameters.
type Config struct {
	// Seed selects the pseudo-random data. Each node adds its id to it.
	Seed uint32

	// Bursts is the number of bursts each node writes and checks.
	Bursts int

	// BurstLength is the number of bytes of each burst.
	BurstLength int
}

// DefaultConfig returns the parameters used when none are given.
func DefaultConfig() Config {
	return Config{
		Seed:        1,
		Bursts:      16,
		BurstLength: 64,
	}
}

var registry = map[string]func(Config) Main{
	"async_trans": func(Config) Main {
		return AsyncTrans
	},
	"random_bursts": RandomBursts,
}

// Names returns the names of the registered scenarios, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Lookup returns the software actor of the named scenario.
func Lookup(name string, cfg Config) (Main, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q, available: %v",
			name, Names())
	}

	return factory(cfg), nil
}

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sarchlab/cosim/bridge"
	"github.com/sarchlab/cosim/scenario"
	"github.com/sarchlab/cosim/sim"
)

// envPrefix is the prefix of the environment variables that set the options,
// for example COSIM_QUEUE_CAPACITY.
const envPrefix = "COSIM"

// autoRecord is the value of a bare --record. The recording gets a unique
// cosim_recording_<xid> name in the working directory.
const autoRecord = "-"

// Config holds the options of a run.
type Config struct {
	Scenario      string
	Nodes         int
	QueueCapacity int
	Overflow      bridge.OverflowPolicy
	Latency       int
	TransPerCycle int
	PipelineDepth int
	Freq          sim.Freq
	Record        string
	ParallelIDs   bool
	Monitor       bool
	MonitorPort   int
	OpenBrowser   bool
	LogLevel      log.Level
	Scenarios     scenario.Config
}

func addRunFlags(flags *pflag.FlagSet) {
	def := scenario.DefaultConfig()

	flags.String("scenario", "async_trans", fmt.Sprintf(
		"The scenario to run, one of %s.", strings.Join(scenario.Names(), ", ")))
	flags.Int("nodes", 1, "The number of nodes that run the scenario.")
	flags.Int("queue-capacity", 64, "The number of transactions a node can queue.")
	flags.String("overflow", "fail",
		"What a node does when its queue is full, fail or block.")
	flags.Int("latency", 1, "The cycles a transaction takes to execute.")
	flags.Int("trans-per-cycle", 1,
		"The transactions an executor can start in one cycle.")
	flags.Int("pipeline-depth", 1,
		"The transactions an executor can have in flight.")
	flags.Float64("freq-mhz", 100, "The bus clock frequency in MHz.")
	flags.String("record", "",
		"Record the transactions into --record=<path>.sqlite3. A bare "+
			"--record picks a unique name.")
	flags.Lookup("record").NoOptDefVal = autoRecord
	flags.Bool("parallel-ids", false,
		"Give the events and transactions unique xid IDs instead of "+
			"sequential numbers.")
	flags.Bool("monitor", false, "Serve the simulation state over HTTP.")
	flags.Int("monitor-port", 0,
		"The port of the monitoring server. 0 picks a free port.")
	flags.Bool("open-browser", false, "Open the monitoring page in a browser.")
	flags.Uint32("seed", def.Seed, "The seed of the random bursts.")
	flags.Int("bursts", def.Bursts, "The number of random bursts per node.")
	flags.Int("burst-length", def.BurstLength, "The bytes of a random burst.")
}

// initViper loads the .env file of the working directory, if any, and lets
// the COSIM_ variables override the flag defaults.
func initViper() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("cannot load .env")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindFlags(flags *pflag.FlagSet) error {
	var err error

	flags.VisitAll(func(f *pflag.Flag) {
		if bindErr := viper.BindPFlag(f.Name, f); bindErr != nil {
			err = errors.Join(err, bindErr)
		}
	})

	return err
}

func loadConfig() (Config, error) {
	overflow, err := bridge.ParseOverflowPolicy(viper.GetString("overflow"))
	if err != nil {
		return Config{}, err
	}

	level, err := log.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Scenario:      viper.GetString("scenario"),
		Nodes:         viper.GetInt("nodes"),
		QueueCapacity: viper.GetInt("queue-capacity"),
		Overflow:      overflow,
		Latency:       viper.GetInt("latency"),
		TransPerCycle: viper.GetInt("trans-per-cycle"),
		PipelineDepth: viper.GetInt("pipeline-depth"),
		Freq:          sim.Freq(viper.GetFloat64("freq-mhz")) * sim.MHz,
		Record:        viper.GetString("record"),
		ParallelIDs:   viper.GetBool("parallel-ids"),
		Monitor:       viper.GetBool("monitor"),
		MonitorPort:   viper.GetInt("monitor-port"),
		OpenBrowser:   viper.GetBool("open-browser"),
		LogLevel:      level,
		Scenarios: scenario.Config{
			Seed:        viper.GetUint32("seed"),
			Bursts:      viper.GetInt("bursts"),
			BurstLength: viper.GetInt("burst-length"),
		},
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch {
	case c.Nodes < 1:
		return fmt.Errorf("nodes must be at least 1, got %d", c.Nodes)
	case c.QueueCapacity < 1:
		return fmt.Errorf("queue-capacity must be positive, got %d",
			c.QueueCapacity)
	case c.Latency < 1:
		return fmt.Errorf("latency must be at least 1, got %d", c.Latency)
	case c.TransPerCycle < 1:
		return fmt.Errorf("trans-per-cycle must be positive, got %d",
			c.TransPerCycle)
	case c.PipelineDepth < 1:
		return fmt.Errorf("pipeline-depth must be positive, got %d",
			c.PipelineDepth)
	case c.Freq <= 0:
		return errors.New("freq-mhz must be positive")
	case c.Scenario == "async_trans" && c.Nodes != 1:
		return fmt.Errorf("async_trans uses fixed addresses and runs on a "+
			"single node, got %d nodes", c.Nodes)
	case c.Scenarios.Bursts < 0 || c.Scenarios.BurstLength < 1:
		return fmt.Errorf("invalid bursts %d of %d bytes",
			c.Scenarios.Bursts, c.Scenarios.BurstLength)
	case c.Scenario == "random_bursts" &&
		uint64(c.Scenarios.Bursts)*uint64(c.Scenarios.BurstLength) >
			scenario.NodeRegion:
		return fmt.Errorf("%d bursts of %d bytes do not fit in the 0x%x byte "+
			"region of a node", c.Scenarios.Bursts, c.Scenarios.BurstLength,
			scenario.NodeRegion)
	}

	return nil
}

func (c Config) builder() bridge.Builder {
	return bridge.MakeBuilder().
		WithFreq(c.Freq).
		WithQueueCapacity(c.QueueCapacity).
		WithOverflowPolicy(c.Overflow).
		WithLatency(c.Latency).
		WithTransPerCycle(c.TransPerCycle).
		WithPipelineDepth(c.PipelineDepth)
}

package bridge

import (
	log "github.com/sirupsen/logrus"

	"github.com/sarchlab/cosim/mem"
	"github.com/sarchlab/cosim/sim"
)

// Builder can build bridges.
type Builder struct {
	engine        sim.Engine
	target        mem.Target
	logger        log.FieldLogger
	freq          sim.Freq
	queueCapacity int
	overflow      OverflowPolicy
	latency       int
	transPerCycle int
	pipelineDepth int
}

// MakeBuilder returns a Builder with the default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:          100 * sim.MHz,
		queueCapacity: 64,
		overflow:      OverflowFail,
		latency:       1,
		transPerCycle: 1,
		pipelineDepth: 1,
	}
}

// WithEngine sets the engine that ticks the executors. A new SerialEngine is
// created if no engine is given.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithTarget sets the bus target that the transactions access.
func (b Builder) WithTarget(target mem.Target) Builder {
	b.target = target
	return b
}

// WithLogger sets the logger of the bridge.
func (b Builder) WithLogger(logger log.FieldLogger) Builder {
	b.logger = logger
	return b
}

// WithFreq sets the clock frequency used to report simulated time.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithQueueCapacity sets the number of transactions each node can queue.
func (b Builder) WithQueueCapacity(capacity int) Builder {
	b.queueCapacity = capacity
	return b
}

// WithOverflowPolicy sets what happens when a node posts into a full queue.
func (b Builder) WithOverflowPolicy(policy OverflowPolicy) Builder {
	b.overflow = policy
	return b
}

// WithLatency sets the number of cycles a transaction occupies the executor.
func (b Builder) WithLatency(latency int) Builder {
	b.latency = latency
	return b
}

// WithTransPerCycle sets the number of transactions an executor can start in
// one cycle.
func (b Builder) WithTransPerCycle(n int) Builder {
	b.transPerCycle = n
	return b
}

// WithPipelineDepth sets the number of transactions an executor can have in
// flight.
func (b Builder) WithPipelineDepth(depth int) Builder {
	b.pipelineDepth = depth
	return b
}

// Build creates a bridge with the given name.
func (b Builder) Build(name string) *Bridge {
	b.mustBeValid()

	if b.engine == nil {
		b.engine = sim.NewSerialEngine()
	}

	if b.logger == nil {
		b.logger = log.StandardLogger()
	}

	return &Bridge{
		name:    name,
		builder: b,
		engine:  b.engine,
		target:  b.target,
		logger:  b.logger,
		nodes:   make(map[int]*Node),
		mains:   make(map[int]func(*Node) error),
	}
}

func (b Builder) mustBeValid() {
	if b.target == nil {
		panic("bridge: target is not set")
	}

	if b.queueCapacity <= 0 {
		log.Panicf("bridge: queue capacity %d must be positive",
			b.queueCapacity)
	}

	if b.latency < 1 {
		log.Panicf("bridge: latency %d must be at least 1 cycle", b.latency)
	}

	if b.transPerCycle < 1 {
		log.Panicf("bridge: %d transactions per cycle", b.transPerCycle)
	}

	if b.pipelineDepth < 1 {
		log.Panicf("bridge: pipeline depth %d must be positive",
			b.pipelineDepth)
	}

	if b.freq <= 0 {
		log.Panicf("bridge: frequency %f must be positive", float64(b.freq))
	}
}

func (b Builder) buildNode(name string, id int) *Node {
	logger := b.logger.WithField("node", id)
	queue := NewTransactionQueue(b.queueCapacity, b.overflow)

	n := &Node{
		id:        id,
		name:      name,
		logger:    b.logger,
		engine:    b.engine,
		queue:     queue,
		joiner:    NewAddressDataJoiner(id),
		tracker:   NewCompletionTracker(id, queue, logger),
		stoppedCh: make(chan struct{}),
	}

	exec := &Executor{
		queue:         queue,
		target:        b.target,
		logger:        logger,
		Latency:       b.latency,
		TransPerCycle: b.transPerCycle,
		PipelineDepth: b.pipelineDepth,
		onStop:        n.onExecutorStop,
	}
	exec.TickingComponent = sim.NewTickingComponent(
		name+".Executor", b.engine, exec)

	n.executor = exec

	return n
}

// Package bridge connects software actors that issue bus transactions to a
// clocked hardware simulation.
//
// Each actor owns a Node. Calls on the Node turn into transactions that are
// queued, paired, executed by the node's Executor on simulation ticks, and
// checked. Blocking calls return once the simulation has executed them;
// asynchronous calls return right away.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/cosim/mem"
	"github.com/sarchlab/cosim/sim"
)

// A Bridge owns the nodes of a co-simulation and runs them against one
// engine.
type Bridge struct {
	name    string
	builder Builder
	engine  sim.Engine
	target  mem.Target
	logger  log.FieldLogger

	mu      sync.Mutex
	nodes   map[int]*Node
	mains   map[int]func(*Node) error
	running bool
}

// Name returns the name of the bridge.
func (b *Bridge) Name() string {
	return b.name
}

// Engine returns the engine that runs the bridge.
func (b *Bridge) Engine() sim.Engine {
	return b.engine
}

// Freq returns the clock frequency of the simulated bus.
func (b *Bridge) Freq() sim.Freq {
	return b.builder.freq
}

// Node returns the node with the given id, creating it on first use.
func (b *Bridge) Node(id int) *Node {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.nodeLocked(id)
}

func (b *Bridge) nodeLocked(id int) *Node {
	if n, ok := b.nodes[id]; ok {
		return n
	}

	if b.running {
		log.Panicf("bridge: cannot add node %d while running", id)
	}

	if id < 0 {
		log.Panicf("bridge: negative node id %d", id)
	}

	n := b.builder.buildNode(fmt.Sprintf("%s.Node[%d]", b.name, id), id)
	b.nodes[id] = n

	return n
}

// Nodes returns all the nodes, ordered by id.
func (b *Bridge) Nodes() []*Node {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]int, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, b.nodes[id])
	}

	return nodes
}

// Spawn registers the software actor of node id. The actor runs in its own
// goroutine when Run is called, and the node is closed when it returns.
func (b *Bridge) Spawn(id int, main func(n *Node) error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.mains[id]; ok {
		log.Panicf("bridge: node %d already has a software actor", id)
	}

	b.nodeLocked(id)
	b.mains[id] = main
}

// AcceptHook registers the hook on every node created so far.
func (b *Bridge) AcceptHook(hook sim.Hook) {
	for _, n := range b.Nodes() {
		n.AcceptHook(hook)
	}
}

// Run starts the software actors and runs the simulation until every node has
// finished or detached. Cancelling ctx aborts the nodes that are still
// running. A node without a spawned actor must be driven by the caller, which
// has to finish or close it for Run to return.
//
// Run returns the errors of the engine, of the actors, and the fatal errors
// latched on the nodes, joined together.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	b.running = true
	mains := make(map[int]func(*Node) error, len(b.mains))
	for id, m := range b.mains {
		mains[id] = m
	}
	b.mu.Unlock()

	nodes := b.Nodes()

	var g errgroup.Group
	for _, n := range nodes {
		main, ok := mains[n.id]
		if !ok {
			continue
		}

		g.Go(func() error {
			defer n.Close()

			if err := main(n); err != nil {
				return fmt.Errorf("%s: %w", n.name, err)
			}

			return nil
		})
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.abort(nodes, ctx.Err())
		case <-stop:
		}
	}()

	for _, n := range nodes {
		n.executor.TickNow()
	}

	engineErr := b.engine.Run()
	close(stop)

	b.engine.Finished()
	b.abort(nodes, engineErr)

	mainErr := g.Wait()

	errs := []error{engineErr, mainErr}
	for _, n := range nodes {
		if err := n.Err(); err != nil && !errors.Is(mainErr, err) {
			errs = append(errs, err)
		}
	}

	b.logSummary(nodes)

	return errors.Join(errs...)
}

func (b *Bridge) abort(nodes []*Node, err error) {
	for _, n := range nodes {
		n.abort(err)
	}
}

func (b *Bridge) logSummary(nodes []*Node) {
	now := b.engine.CurrentTime()

	for _, n := range nodes {
		s := n.Stats()
		entry := b.logger.WithFields(log.Fields{
			"node":       s.ID,
			"trans":      s.Completed,
			"checks":     s.Checks,
			"mismatches": s.Mismatches,
		})

		if s.Passed && s.Finished {
			entry.Infof("PASS at cycle %d (%s)", now, b.builder.freq.Elapsed(now))
		} else {
			entry.Warnf("FAIL at cycle %d (%s)", now, b.builder.freq.Elapsed(now))
		}
	}
}

// Passed reports whether every node finished its run and passed.
func (b *Bridge) Passed() bool {
	for _, n := range b.Nodes() {
		if !n.Finished() || !n.Passed() {
			return false
		}
	}

	return true
}

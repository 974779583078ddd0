package chaos

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/torua/internal/clusterapi"
)

// ErrNoTerminationCapability is returned by Start when the controller was
// built without a Terminator. The spec treats a missing termination
// capability as a fatal configuration error, never a silent no-op.
var ErrNoTerminationCapability = errors.New("chaos: no termination capability configured")

// ErrAlreadyRunning is returned by Start when the controller's loop is
// already active.
var ErrAlreadyRunning = errors.New("chaos: already running")

// NodeProvider returns the nodes currently registered with the proxy.
type NodeProvider func() []clusterapi.NodeDescriptor

// Terminator hard-terminates one node. The proxy's admin shutdown caller
// (POST /admin/shutdown) is the only termination capability this system
// wires; it deliberately does not spawn or own node OS processes.
type Terminator func(ctx context.Context, node clusterapi.NodeDescriptor) error

// Status is a point-in-time snapshot of the controller's run state.
type Status struct {
	Enabled           bool          `json:"enabled"`
	MinInterval       time.Duration `json:"min_interval"`
	MaxInterval       time.Duration `json:"max_interval"`
	MinSurvivingNodes int           `json:"min_surviving_nodes"`
}

// Controller runs the chaos tick loop described in the component design:
// sleep a random interval, pick one registered node at random, and
// terminate it, unless the cluster already has MinSurvivingNodes or fewer
// registered nodes.
type Controller struct {
	nodes       NodeProvider
	terminate   Terminator
	log         *zap.SugaredLogger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	minInterval time.Duration
	maxInterval time.Duration
	minSurvive  int
	running     bool
}

// New builds a Controller. minInterval/maxInterval/minSurviving follow the
// spec's defaults of 5s, 8s, and 1 when zero-valued.
func New(nodes NodeProvider, terminate Terminator, minInterval, maxInterval time.Duration, minSurviving int, log *zap.SugaredLogger) *Controller {
	if minInterval <= 0 {
		minInterval = 5 * time.Second
	}
	if maxInterval <= minInterval {
		maxInterval = minInterval + 3*time.Second
	}
	if minSurviving <= 0 {
		minSurviving = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Controller{
		nodes:       nodes,
		terminate:   terminate,
		minInterval: minInterval,
		maxInterval: maxInterval,
		minSurvive:  minSurviving,
		log:         log,
	}
}

// Start begins the chaos loop. It returns ErrNoTerminationCapability if no
// Terminator was wired, and ErrAlreadyRunning on a double start.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminate == nil {
		return ErrNoTerminationCapability
	}
	if c.running {
		return ErrAlreadyRunning
	}

	c.running = true
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.loop(ctx, c.stopCh)
	c.log.Infow("chaos controller started", "min_interval", c.minInterval, "max_interval", c.maxInterval)
	return nil
}

// Stop halts the loop and waits for it to exit. Calling Stop when not
// running is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	close(c.stopCh)
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	c.log.Info("chaos controller stopped")
}

// Status reports whether the loop is currently running alongside its
// configured parameters.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Enabled:           c.running,
		MinInterval:       c.minInterval,
		MaxInterval:       c.maxInterval,
		MinSurvivingNodes: c.minSurvive,
	}
}

func (c *Controller) loop(ctx context.Context, stop chan struct{}) {
	defer c.wg.Done()
	for {
		wait := c.randomInterval()
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
		c.tick(ctx)
	}
}

func (c *Controller) randomInterval() time.Duration {
	span := c.maxInterval - c.minInterval
	if span <= 0 {
		return c.minInterval
	}
	return c.minInterval + time.Duration(rand.Int63n(int64(span)))
}

// tick enumerates registered nodes, skips the tick if pruning one more
// would leave too few survivors, then terminates one uniformly-at-random
// victim. It never removes the victim from the ring itself; that only
// happens once the liveness loop's health checks fail twice, which is a
// deliberate window the routing layer must tolerate.
func (c *Controller) tick(ctx context.Context) {
	nodes := c.nodes()
	if len(nodes) <= c.minSurvive {
		c.log.Debugw("chaos tick skipped, too few nodes", "count", len(nodes), "min_surviving", c.minSurvive)
		return
	}

	victim := nodes[rand.Intn(len(nodes))]
	c.log.Warnw("chaos tick terminating node", "node", victim.ID)
	if err := c.terminate(ctx, victim); err != nil {
		c.log.Warnw("chaos termination call failed", "node", victim.ID, "err", err)
	}
}

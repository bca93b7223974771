package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/bpf"

	"firestige.xyz/dnsniff/internal/core"
)

// Options configures a capture group. It is passed by value to every ring opener.
type Options struct {
	Interface   string
	Workers     int
	Backend     string // tpacket, afpacket, pcap
	PcapFile    string // pcap backend input
	Fanout      FanoutMode
	FanoutID    uint16 // 0 derives one from the pid
	Defrag      bool
	Geometry    Geometry
	PollTimeout time.Duration
	Filter      []bpf.RawInstruction // attached to every socket when set
	Logger      *slog.Logger
}

// Backend opens all rings of a group. A failed open must not leak rings.
type Backend func(opts Options) ([]Ring, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Backend)
)

// Register makes a backend available under name.
func Register(name string, b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = b
}

// Backends returns the names of the registered backends.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupBackend(name string) (Backend, bool) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	b, ok := backends[name]
	return b, ok
}

// Group is the set of rings joined to one fanout group.
type Group struct {
	opts  Options
	rings []Ring
	once  sync.Once
	err   error
}

// OpenGroup creates opts.Workers rings through the selected backend.
func OpenGroup(opts Options) (*Group, error) {
	if opts.Workers < 1 {
		return nil, fmt.Errorf("%w: workers must be at least 1, got %d", core.ErrConfigInvalid, opts.Workers)
	}
	if opts.FanoutID == 0 {
		opts.FanoutID = DefaultFanoutID()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("component", "capture")

	backend, ok := lookupBackend(opts.Backend)
	if !ok {
		return nil, newError("open", opts.Interface, -1,
			fmt.Errorf("%w: %q on this platform (available: %v)", core.ErrUnsupported, opts.Backend, Backends()))
	}

	rings, err := backend(opts)
	if err != nil {
		return nil, err
	}
	opts.Logger.Info("capture group opened",
		"backend", opts.Backend,
		"interface", opts.Interface,
		"rings", len(rings),
		"fanout", opts.Fanout.String(),
		"fanout_id", opts.FanoutID,
		"block_size", opts.Geometry.BlockSize,
		"block_count", opts.Geometry.BlockCount)
	return &Group{opts: opts, rings: rings}, nil
}

// Rings returns the rings of the group in index order.
func (g *Group) Rings() []Ring { return g.rings }

// FanoutID returns the fanout group id in use.
func (g *Group) FanoutID() uint16 { return g.opts.FanoutID }

// Close closes every ring. Workers must have returned before.
func (g *Group) Close() error {
	g.once.Do(func() {
		g.err = closeRings(g.rings)
	})
	return g.err
}

// openEach opens opts.Workers rings one by one, closing the opened ones on failure.
func openEach(opts Options, open func(index int) (Ring, error)) ([]Ring, error) {
	rings := make([]Ring, 0, opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		r, err := open(i)
		if err != nil {
			if cerr := closeRings(rings); cerr != nil {
				opts.Logger.Warn("failed to close partially opened rings", "error", cerr)
			}
			return nil, err
		}
		rings = append(rings, r)
	}
	return rings, nil
}

func closeRings(rings []Ring) error {
	var errs []error
	for _, r := range rings {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

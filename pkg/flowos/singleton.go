// Package flowos ties the backend engines together behind a process
// singleton and dispatcher: a single mutable-optional LibOS instance,
// borrowed for the duration of every operation, routing each call to
// whichever of the Network or Memory arms is active.
package flowos

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/flowos/flowos/pkg/backend"
	"github.com/flowos/flowos/pkg/backend/memory/catmem"
	"github.com/flowos/flowos/pkg/backend/network/catcollar"
	"github.com/flowos/flowos/pkg/backend/network/catnap"
	"github.com/flowos/flowos/pkg/backend/network/catnip"
	"github.com/flowos/flowos/pkg/backend/network/catpowder"
	"github.com/flowos/flowos/pkg/config"
	"github.com/flowos/flowos/pkg/errno"
	"gvisor.dev/gvisor/pkg/log"
)

// singleton guards the installed LibOS instance. instMu protects the
// pointer itself (only touched by Init and withSingleton, both brief);
// borrow is the single-permit semaphore implementing the mutable-borrow
// discipline: a second attempt to borrow while one call is in flight must
// observe EBUSY rather than block.
var (
	instMu   sync.Mutex
	instance *LibOS
	borrow   = semaphore.NewWeighted(1)
)

// Init installs a new LibOS instance, selected by the LIBOS environment
// variable and configured from CONFIG_PATH. A second call overwrites the
// previously-installed instance rather than erroring, since init has no
// return value to report "already initialized" through (see DESIGN.md).
// Malformed configuration panics; callers at the ABI boundary are expected
// to let this terminate the process rather than recover it.
func Init(argc int, argv []string) {
	name := backend.Name(os.Getenv("LIBOS"))
	network, memory := name.Family()
	if !network && !memory {
		panic(fmt.Sprintf("flowos: LIBOS=%q does not name a compiled-in backend", name))
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("flowos: %v", err))
	}

	lo, err := newLibOS(name, cfg)
	if err != nil {
		panic(fmt.Sprintf("flowos: %v", err))
	}

	log.Infof("flowos: initialized LIBOS=%s", name)
	instMu.Lock()
	instance = lo
	instMu.Unlock()
}

// withSingleton implements the borrow-then-dispatch validation policy:
// acquire the mutable borrow, resolve the installed instance, and run fn.
// Every ABI entry point funnels through this except init, sgaalloc/sgafree
// and the getsockname/setsockopt/getsockopt stubs.
func withSingleton(fn func(lo *LibOS) errno.Errno) errno.Errno {
	if !borrow.TryAcquire(1) {
		return errno.EBUSY
	}
	defer borrow.Release(1)

	instMu.Lock()
	lo := instance
	instMu.Unlock()
	if lo == nil {
		return errno.ENOSYS
	}
	return fn(lo)
}

// newLibOS constructs the concrete backend named by name, wiring the
// matching sub-tree of cfg. Exactly one of the returned LibOS's net/mem
// fields is non-nil, matching the tagged-variant dispatcher.
func newLibOS(name backend.Name, cfg *config.Config) (*LibOS, error) {
	lo := &LibOS{name: name}
	switch name {
	case backend.Catnap:
		eng, err := catnap.New()
		if err != nil {
			return nil, fmt.Errorf("catnap: %w", err)
		}
		lo.net = eng
	case backend.Catnip:
		eng, err := catnip.New(cfg.Catnip.Interface, cfg.Catnip.MTU)
		if err != nil {
			return nil, fmt.Errorf("catnip: %w", err)
		}
		lo.net = eng
	case backend.Catpowder:
		eng, err := catpowder.New(cfg.Catpowder.Interface)
		if err != nil {
			return nil, fmt.Errorf("catpowder: %w", err)
		}
		lo.net = eng
	case backend.Catcollar:
		lo.net = catcollar.New()
	case backend.Catmem:
		dir := cfg.Catmem.Directory
		eng, err := catmem.New(dir)
		if err != nil {
			return nil, fmt.Errorf("catmem: %w", err)
		}
		lo.mem = eng
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	return lo, nil
}

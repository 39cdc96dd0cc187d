package addrspace

import "sync"

// Registry is the Arena<AddrSpace> design note §9 calls for: a dense
// pid-indexed table replacing the original's static pidMap side-table.
// It also holds the process-count lock (nUsedAddrSpaceLock) gating
// ForkExec admission and the machine-halt-on-zero-processes rule.
type Registry struct {
	mu        sync.Mutex
	slots     [MaxProcesses]*AddrSpace
	nUsed     int
	onAllDone func()
}

func NewRegistry() *Registry {
	return &Registry{}
}

// OnAllProcessesDone registers a callback invoked when the last process
// exits (the "machine halts" rule of spec.md §4.3).
func (r *Registry) OnAllProcessesDone(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAllDone = fn
}

type OutOfProcesses struct{}

func (OutOfProcesses) Error() string { return "at MaxProcesses, cannot fork" }

// Reserve admits a new process: fails at MaxProcesses, otherwise
// allocates a pid by linear scan of the slot table and marks it used
// but not yet published (see Publish).
func (r *Registry) Reserve() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nUsed >= MaxProcesses {
		return -1, OutOfProcesses{}
	}
	for pid, s := range r.slots {
		if s == nil {
			r.slots[pid] = &AddrSpace{pid: -1} // placeholder until Publish
			r.nUsed++
			return pid, nil
		}
	}
	return -1, OutOfProcesses{}
}

// Publish installs the fully constructed AddrSpace for a pid reserved
// by Reserve, or clears the slot on construction failure.
func (r *Registry) Publish(pid int, as *AddrSpace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if as == nil {
		r.slots[pid] = nil
		r.nUsed--
		return
	}
	as.pid = pid
	r.slots[pid] = as
}

func (r *Registry) Get(pid int) *AddrSpace {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pid < 0 || pid >= MaxProcesses {
		return nil
	}
	return r.slots[pid]
}

// EndProcess releases pid's slot; if the registry then holds zero live
// processes, the registered onAllDone callback fires (machine halt).
func (r *Registry) EndProcess(pid int) {
	r.mu.Lock()
	r.slots[pid] = nil
	r.nUsed--
	done := r.nUsed == 0
	cb := r.onAllDone
	r.mu.Unlock()

	if done && cb != nil {
		cb()
	}
}

func (r *Registry) NumProcesses() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nUsed
}

// Package frame implements FrameProvider, the process-wide pool
// allocator of physical frames named in spec.md §2. Frames are handed
// out as indices only; the provider does not touch or zero frame memory.
package frame

import "sync"

type OutOfFrames struct{}

func (OutOfFrames) Error() string { return "no free physical frames" }

// Provider is the frame-pool allocator; concurrent callers serialize on
// its mu field (spec.md §5's "fp_lock").
type Provider struct {
	mu     sync.Mutex
	free   []bool
	nAvail int
}

// New creates a pool of numFrames frames, all initially free.
func New(numFrames int) *Provider {
	p := &Provider{free: make([]bool, numFrames), nAvail: numFrames}
	for i := range p.free {
		p.free[i] = true
	}
	return p
}

func (p *Provider) NumFrames() int {
	return len(p.free)
}

// Available returns the count of unallocated frames; invariant
// P-Frames requires Available() + Σ process pages == NumPhysPages.
func (p *Provider) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nAvail
}

// Alloc allocates n frames atomically: either all n succeed, or none do
// and ok is false, leaving the pool untouched.
func (p *Provider) Alloc(n int) ([]int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n > p.nAvail {
		return nil, false
	}

	frames := make([]int, 0, n)
	for i := range p.free {
		if len(frames) == n {
			break
		}
		if p.free[i] {
			frames = append(frames, i)
		}
	}

	for _, f := range frames {
		p.free[f] = false
	}
	p.nAvail -= n
	return frames, true
}

// Free releases frames back to the pool.
func (p *Provider) Free(frames []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range frames {
		if !p.free[f] {
			p.free[f] = true
			p.nAvail++
		}
	}
}

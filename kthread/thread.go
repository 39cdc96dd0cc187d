// Package kthread implements kernel-scheduled threads carrying saved
// user registers, named in spec.md §3 "Thread" / §4.3 "Thread runtime".
//
// The CPU/device simulator that actually executes user code is out of
// scope (spec.md §1): this package models only the kernel-side state a
// thread has — its slot, its join condition, its saved register file —
// and the transitions syscalls drive (create, exit, join). Nothing
// here runs a goroutine per user thread, since there is no simulator
// loop for it to drive.
package kthread

import (
	"sync"

	"github.com/PapiCZ/nachosgo/addrspace"
	"github.com/PapiCZ/nachosgo/synch"
)

const MaxThreads = addrspace.MaxProcesses * addrspace.MaxThreadsPerProcess

// UserContext is the per-thread saved user register file plus the
// is-main flag, modeled as an explicit value per design note §9
// ("Per-thread saved user registers + PC switch-over... model as an
// explicit UserContext value swapped on trap entry/exit"). Migration
// serializes this value directly (see package migrate).
type UserContext struct {
	Registers [addrspace.NumTotalRegs]int32
	IsMain    bool
}

// threadInfo connects a kernel thread id to its owning process's
// user-level thread id and address-space slot, per spec.md §3's
// threads_infos table.
type threadInfo struct {
	pid          int
	userThreadID uint32
	slotIndex    int
	isMain       bool
	ctx          UserContext
	cond         *synch.Condition
	lock         *synch.Lock
	alive        bool
}

type userKey struct {
	pid          int
	userThreadID uint32
}

// Runtime is the kernel-wide thread arena (design note §9:
// Arena<Thread> indexed by dense tid, bitmap becomes the free-list).
type Runtime struct {
	mu        sync.Mutex
	slots     [MaxThreads]*threadInfo
	byUserTid map[userKey]int
}

func NewRuntime() *Runtime {
	return &Runtime{byUserTid: make(map[userKey]int)}
}

// TidForUser resolves the kernel tid backing a process's user-level
// thread id, the mapping Threadjoin's syscall argument needs.
func (rt *Runtime) TidForUser(pid int, userThreadID uint32) (int, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	tid, ok := rt.byUserTid[userKey{pid, userThreadID}]
	return tid, ok
}

type OutOfThreads struct{}

func (OutOfThreads) Error() string { return "no free kernel thread slots" }

func (rt *Runtime) allocTid() (int, *threadInfo, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for tid, s := range rt.slots {
		if s == nil {
			ti := &threadInfo{lock: synch.NewLock(), cond: synch.NewCondition(), alive: true}
			rt.slots[tid] = ti
			return tid, ti, nil
		}
	}
	return -1, nil, OutOfThreads{}
}

func (rt *Runtime) infoOf(tid int) *threadInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if tid < 0 || tid >= MaxThreads {
		return nil
	}
	return rt.slots[tid]
}

// CreateUserThread implements spec.md §4.3's do_UserThreadCreate: ask
// the AddrSpace for a free thread slot, fail if none, mint a fresh
// user-level thread id, install a thread_info entry, and register the
// kernel tid. buildCtx receives the assigned slot so it can compute a
// slot-dependent stack pointer via as.SlotStackTop.
func (rt *Runtime) CreateUserThread(pid int, as *addrspace.AddrSpace, buildCtx func(slot int) UserContext) (int, error) {
	return rt.createUserThread(pid, as, as.NextUserThreadID(), buildCtx)
}

// CreateUserThreadWithID installs a thread under a caller-chosen
// user-level id instead of minting a fresh one, for migration's
// receiving side (spec.md §4.6 step 6), which must preserve the
// snapshot's thread ids rather than reassign them.
func (rt *Runtime) CreateUserThreadWithID(pid int, as *addrspace.AddrSpace, userThreadID uint32, buildCtx func(slot int) UserContext) (int, error) {
	return rt.createUserThread(pid, as, userThreadID, buildCtx)
}

func (rt *Runtime) createUserThread(pid int, as *addrspace.AddrSpace, userThreadID uint32, buildCtx func(slot int) UserContext) (int, error) {
	slot, err := as.AllocThreadSlot()
	if err != nil {
		return -1, err
	}

	tid, ti, err := rt.allocTid()
	if err != nil {
		as.FreeThreadSlot(slot)
		return -1, err
	}

	ti.pid = pid
	ti.userThreadID = userThreadID
	ti.slotIndex = slot
	ti.ctx = buildCtx(slot)

	rt.mu.Lock()
	rt.byUserTid[userKey{pid, userThreadID}] = tid
	rt.mu.Unlock()

	return tid, nil
}

// CreateMainThread installs the main thread of a freshly exec'd process
// (is_main = true); it does not consume a thread slot, mirroring the
// original's distinction between the main thread and user-created ones.
func (rt *Runtime) CreateMainThread(pid int, initCtx UserContext) (int, error) {
	tid, ti, err := rt.allocTid()
	if err != nil {
		return -1, err
	}
	ti.pid = pid
	ti.isMain = true
	initCtx.IsMain = true
	ti.ctx = initCtx

	return tid, nil
}

// Context returns the saved register file for tid.
func (rt *Runtime) Context(tid int) (UserContext, bool) {
	ti := rt.infoOf(tid)
	if ti == nil {
		return UserContext{}, false
	}
	ti.lock.Acquire()
	defer ti.lock.Release()
	return ti.ctx, true
}

// ExitUserThread implements spec.md §4.3's do_UserThreadExit: broadcast
// the per-thread condition so joiners wake, free the slot, decrement
// n_threads, and signal the wait-for-all condition if it reaches zero.
func (rt *Runtime) ExitUserThread(tid int, as *addrspace.AddrSpace) {
	ti := rt.infoOf(tid)
	if ti == nil {
		return
	}

	ti.lock.Acquire()
	ti.alive = false
	ti.cond.Broadcast()
	ti.lock.Release()

	rt.mu.Lock()
	rt.slots[tid] = nil
	delete(rt.byUserTid, userKey{ti.pid, ti.userThreadID})
	rt.mu.Unlock()

	if as.FreeThreadSlot(ti.slotIndex) {
		as.SignalAllThreadsDone()
	}
}

// Join blocks the caller while tid is still alive, per spec.md §4.3's
// ThreadJoin(user_tid) waiting while the kernel tid stays in tidMap.
func (rt *Runtime) Join(tid int) {
	ti := rt.infoOf(tid)
	if ti == nil {
		return
	}
	ti.lock.Acquire()
	for ti.alive {
		ti.cond.Wait(ti.lock)
	}
	ti.lock.Release()
}

func (rt *Runtime) Exists(tid int) bool {
	return rt.infoOf(tid) != nil
}

// ExitMainThread removes the main-thread bookkeeping entry and runs the
// process-exit sequence of spec.md §4.3: broadcast processJoinCond
// (waking external joiners), wait for all child threads to finish, then
// release frames.
func ExitMainThread(rt *Runtime, tid int, as *addrspace.AddrSpace) {
	rt.mu.Lock()
	rt.slots[tid] = nil
	rt.mu.Unlock()

	as.NotifyProcessJoin()
	as.WaitForAllThreads()
	as.Release()
}

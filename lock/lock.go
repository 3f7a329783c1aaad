// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package lock implements LockTable (spec.md §4.2): the per-datastore
// global lock and the partial-lock registry with RFC 5717 semantics.
package lock

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danos/confd/acm"
	"github.com/danos/confd/datastore"
	"github.com/danos/confd/mgmterror"
	"github.com/danos/confd/xpath"
)

// GlobalLock records the single full-datastore lock holder.
type GlobalLock struct {
	Session   uint32
	Src       string
	Timestamp time.Time
}

// PartialLock is one RFC 5717 subtree lock (spec.md §3's Plcb).
type PartialLock struct {
	Id        uint32
	Session   uint32
	Token     string // external correlation id surfaced in audit records
	Timestamp time.Time
	Selects   []*xpath.Pcb
	// PartialResults holds each select's own node-set before the union;
	// kept so an <rpc-error> can cite which select produced a conflict.
	PartialResults []*xpath.NodeSet
	FinalResult    *xpath.NodeSet
}

// Covers reports whether the lock owns node: node is in FinalResult or
// is a descendant of a node in it.
func (p *PartialLock) Covers(node *datastore.Value) bool {
	for n := xpath.Node(node); n != nil; n = n.NodeParent() {
		for _, owned := range p.FinalResult.All() {
			if owned == n {
				return true
			}
		}
	}
	return false
}

// Table is one datastore's lock state. All methods are safe for
// concurrent use.
type Table struct {
	mu      sync.Mutex
	global  *GlobalLock
	partial map[uint32]*PartialLock
	nextId  uint32
}

func NewTable() *Table {
	return &Table{partial: make(map[uint32]*PartialLock)}
}

// Lock takes the global lock for session. It fails with in-use if any
// partial lock exists or another session already holds the global lock.
// The caller (the engine) additionally refuses the lock while a
// transaction is in flight on the datastore.
func (t *Table) Lock(session uint32, src string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.partial) > 0 {
		return mgmterror.NewInUseError()
	}
	if t.global != nil {
		if t.global.Session == session {
			return mgmterror.NewInUseError()
		}
		return mgmterror.NewLockDeniedError(t.global.Session)
	}
	t.global = &GlobalLock{Session: session, Src: src, Timestamp: time.Now()}
	return nil
}

// Unlock releases the global lock; the session must match the holder.
func (t *Table) Unlock(session uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.global == nil {
		return mgmterror.NewOperationFailedError("datastore is not locked")
	}
	if t.global.Session != session {
		return mgmterror.NewLockDeniedError(t.global.Session)
	}
	t.global = nil
	return nil
}

// Locked returns the global lock holder's session, or 0.
func (t *Table) Locked() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.global == nil {
		return 0
	}
	return t.global.Session
}

// GlobalDenies reports whether the global lock blocks a write by
// session.
func (t *Table) GlobalDenies(session uint32) (owner uint32, denied bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.global != nil && t.global.Session != session {
		return t.global.Session, true
	}
	return 0, false
}

// AddPartialLock evaluates selects against root (config-only) and, if
// no conflicting lock exists, registers a new partial lock owned by
// session (spec.md §4.2). inConfirmed blocks new partial locks for the
// duration of an outstanding confirmed commit. checker needs only read
// access on the selected nodes; write access is not required.
func (t *Table) AddPartialLock(
	root *datastore.Value,
	session acm.Session,
	selects []*xpath.Pcb,
	eval xpath.Evaluator,
	checker acm.Checker,
	inConfirmed bool,
) (*PartialLock, error) {
	if len(selects) == 0 {
		return nil, mgmterror.NewInvalidValueError("no select expressions given")
	}
	if inConfirmed {
		return nil, mgmterror.NewInUseCommitError()
	}

	partials := make([]*xpath.NodeSet, 0, len(selects))
	final := xpath.NewNodeSet()
	for _, sel := range selects {
		res, err := eval.Evaluate(sel, &xpath.Context{Node: root, ConfigOnly: true}, root, true)
		if err != nil {
			return nil, err
		}
		ns, ok := res.(*xpath.NodeSet)
		if !ok {
			return nil, mgmterror.NewXPathNotNodesetError(sel.Expr)
		}
		if ns.Len() == 0 {
			return nil, mgmterror.NewXPathNodesetEmptyError(sel.Expr)
		}
		partials = append(partials, ns)
		final = final.Union(ns)
	}

	// Prune redundant nodes: a node whose ancestor is also selected is
	// already covered by the ancestor's lock.
	final.Prune(func(n xpath.Node) bool {
		for p := n.NodeParent(); p != nil; p = p.NodeParent() {
			for _, other := range final.All() {
				if other == p {
					return false
				}
			}
		}
		return true
	})

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.global != nil && t.global.Session != session.Id {
		return nil, mgmterror.NewLockDeniedError(t.global.Session)
	}

	for _, n := range final.All() {
		v, ok := n.(*datastore.Value)
		if !ok {
			return nil, mgmterror.NewInternalError("partial-lock select returned a non-datastore node")
		}
		if !checker.Allowed(session, v.Path(), acm.OpRead) {
			return nil, mgmterror.NewAccessDeniedError(v.Path())
		}
		// No ancestor, self or descendant of any selected node may be
		// locked by a different session.
		if owner, id := t.ownerOfLocked(v, session.Id); id != 0 {
			return nil, mgmterror.NewLockDeniedError(owner)
		}
		for _, pl := range t.partial {
			if pl.Session == session.Id {
				continue
			}
			for _, owned := range pl.FinalResult.All() {
				if isDescendant(owned, v) {
					return nil, mgmterror.NewLockDeniedError(pl.Session)
				}
			}
		}
	}

	t.nextId++
	pl := &PartialLock{
		Id:             t.nextId,
		Session:        session.Id,
		Token:          uuid.New().String(),
		Timestamp:      time.Now(),
		Selects:        selects,
		PartialResults: partials,
		FinalResult:    final,
	}
	t.partial[pl.Id] = pl
	return pl, nil
}

// ReleasePartialLock releases one lock by id; the session must match.
func (t *Table) ReleasePartialLock(session, id uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pl, ok := t.partial[id]
	if !ok {
		return mgmterror.NewInvalidValueError("no such partial lock")
	}
	if pl.Session != session {
		return mgmterror.NewLockDeniedError(pl.Session)
	}
	delete(t.partial, id)
	t.maybeResetAllocator()
	return nil
}

// ReleasePartialLocks removes every partial lock held by session;
// invoked when the session terminates.
func (t *Table) ReleasePartialLocks(session uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, pl := range t.partial {
		if pl.Session == session {
			delete(t.partial, id)
		}
	}
	t.maybeResetAllocator()
}

// Lock ids are reused only once no locks remain.
func (t *Table) maybeResetAllocator() {
	if len(t.partial) == 0 {
		t.nextId = 0
	}
}

// HasPartialLocks reports whether any partial lock is registered.
func (t *Table) HasPartialLocks() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.partial) > 0
}

// Partial returns the lock with the given id, or nil.
func (t *Table) Partial(id uint32) *PartialLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.partial[id]
}

// SwapResnode redirects any partial-lock result referencing old to
// point at replacement instead; invoked when a commit finalises a
// replace edit on a tracked node.
func (t *Table) SwapResnode(old, replacement *datastore.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pl := range t.partial {
		pl.FinalResult.Replace(old, replacement)
		for _, ns := range pl.PartialResults {
			ns.Replace(old, replacement)
		}
	}
}

// WriteOK is the single write-path lock check (spec.md §5): it walks
// node and its ancestors looking for a partial-lock owner other than
// session, and returns lock-denied carrying the owner's session id if
// one is found.
func (t *Table) WriteOK(node *datastore.Value, session uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if owner, id := t.ownerOfLocked(node, session); id != 0 {
		return mgmterror.NewLockDeniedError(owner)
	}
	return nil
}

// ownerOfLocked returns the owning (session, lockid) if node or any
// ancestor is covered by a partial lock held by a session other than
// exclude. Caller holds t.mu.
func (t *Table) ownerOfLocked(node *datastore.Value, exclude uint32) (uint32, uint32) {
	for _, pl := range t.partial {
		if pl.Session == exclude {
			continue
		}
		if pl.Covers(node) {
			return pl.Session, pl.Id
		}
	}
	return 0, 0
}

func isDescendant(node, ancestor xpath.Node) bool {
	for n := node; n != nil; n = n.NodeParent() {
		if n == ancestor {
			return true
		}
	}
	return false
}

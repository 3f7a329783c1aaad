// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package engine

import (
	"sync"
	"time"

	"github.com/danos/confd/datastore"
	"github.com/danos/confd/lock"
	"github.com/danos/confd/mgmterror"
)

// State is a datastore's lifecycle state (spec.md §3, §4.7).
type State int

const (
	StateInit State = iota
	StateReady
	StatePartialLocked
	StateFullLocked
	StateCleanup
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StatePartialLocked:
		return "partial-locked"
	case StateFullLocked:
		return "full-locked"
	case StateCleanup:
		return "cleanup"
	}
	return "unknown"
}

// Datastore is one named configuration tree plus its transaction
// serialisation, lock table and change counters (spec.md §3).
type Datastore struct {
	Id datastore.Id

	// mu is the transaction mutex: one transaction per datastore at a
	// time (spec.md §5). state and the counters below are only written
	// with mu held or before the datastore becomes reachable.
	mu    sync.Mutex
	state State

	Root       *datastore.Value
	LastChange time.Time
	LastTxid   uint64
	CurTxid    uint64

	Locks *lock.Table
}

func newDatastore(id datastore.Id, root *datastore.Value) *Datastore {
	return &Datastore{
		Id:    id,
		state: StateInit,
		Root:  root,
		Locks: lock.NewTable(),
	}
}

// State returns the current lifecycle state.
func (ds *Datastore) State() State {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.state
}

// readable reports whether reads are allowed: all states but Init and
// Cleanup.
func (ds *Datastore) readable() bool {
	return ds.state != StateInit && ds.state != StateCleanup
}

// writeOK checks that session may open a write transaction: the
// datastore must be Ready, PartialLocked (per-node partial-lock checks
// happen later, in the edit pipeline), or FullLocked by the caller
// itself.
func (ds *Datastore) writeOK(session uint32) error {
	switch ds.state {
	case StateReady, StatePartialLocked:
		return nil
	case StateFullLocked:
		if ds.Locks.Locked() == session {
			return nil
		}
		return mgmterror.NewLockDeniedError(ds.Locks.Locked())
	}
	return mgmterror.NewOperationFailedError(
		"datastore " + ds.Id.String() + " is " + ds.state.String())
}

// refreshLockState recomputes the Ready/PartialLocked/FullLocked state
// after a lock operation. Caller holds ds.mu.
func (ds *Datastore) refreshLockState() {
	if ds.state == StateInit || ds.state == StateCleanup {
		return
	}
	switch {
	case ds.Locks.Locked() != 0:
		ds.state = StateFullLocked
	case ds.Locks.HasPartialLocks():
		ds.state = StatePartialLocked
	default:
		ds.state = StateReady
	}
}

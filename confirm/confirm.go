// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package confirm implements the :confirmed-commit timer and rollback
// manager (spec.md §4.6): a commit flagged confirmed snapshots running
// and auto-reverts unless confirmed before its deadline. State is
// persisted to a job file so an outstanding confirmed commit survives
// a daemon restart.
package confirm

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danos/confd/datastore"
	"github.com/danos/confd/mgmterror"
)

const (
	// DefaultTimeout is the RFC 6241 confirm-timeout default, seconds.
	DefaultTimeout = 600
)

// Info is the persisted shape of an outstanding confirmed commit.
type Info struct {
	Session   string `json:"session"`
	PersistId string `json:"persist-id"`
}

// Options carries the <commit> arguments relevant to confirmation.
type Options struct {
	Confirmed bool
	Timeout   uint32 // seconds; 0 means DefaultTimeout
	Persist   bool
	PersistId string
}

// RollbackFn restores running from the backup snapshot via a full
// fresh transaction; supplied by the engine.
type RollbackFn func(backup *datastore.Value) error

// Manager owns the confirmed-commit state machine.
type Manager struct {
	mu        sync.Mutex
	active    bool
	session   uint32
	persistId string
	deadline  time.Time
	backup    *datastore.Value
	timer     *time.Timer

	rollback RollbackFn
	jobFile  string
	Elog     *log.Logger
}

func NewManager(rollback RollbackFn, jobFile string, elog *log.Logger) *Manager {
	return &Manager{rollback: rollback, jobFile: jobFile, Elog: elog}
}

// Active reports whether a confirmed commit is outstanding.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Allow decides whether a <commit> may proceed given the outstanding
// confirmed-commit state, mirroring the teacher's decision table: a
// plain commit from an unrelated session is blocked; a matching
// persist-id (or, without one, the owning session) may confirm or
// extend; revert always wins.
func (m *Manager) Allow(session uint32, opts *Options, revert bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}
	switch {
	case revert:
		return nil
	case opts == nil:
		// CLI commit, cannot proceed past an ongoing confirmed commit.
		return mgmterror.NewInUseCommitError()
	case m.persistId != "" && m.persistId != opts.PersistId:
		return mgmterror.NewInvalidValueError(
			"persist-id does not match outstanding confirmed commit")
	case opts.PersistId == "" && m.session != session:
		return mgmterror.NewInUseCommitError()
	}
	return nil
}

// Start begins (or extends) a confirmed commit: the first call
// snapshots running into the backup; follow-ups only move the
// deadline. Returns the persist-id in effect, generated when persist
// was requested without one.
func (m *Manager) Start(session uint32, opts *Options, runningSnapshot *datastore.Value) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	if !m.active {
		m.active = true
		m.session = session
		m.backup = runningSnapshot
		if opts.Persist {
			if opts.PersistId != "" {
				m.persistId = opts.PersistId
			} else {
				m.persistId = uuid.New().String()
			}
		} else {
			m.persistId = ""
		}
		m.writeJob()
	}

	m.deadline = time.Now().Add(time.Duration(timeout) * time.Second)
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(time.Until(m.deadline), m.onTimeout)
	return m.persistId
}

// Confirm finalises the outstanding confirmed commit: the running
// contents stand, the backup is dropped.
func (m *Manager) Confirm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

// Revert rolls running back to the snapshot immediately.
func (m *Manager) Revert() error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return mgmterror.NewOperationFailedError("no confirmed commit is outstanding")
	}
	backup := m.backup
	m.clearLocked()
	m.mu.Unlock()
	return m.rollback(backup)
}

// CheckTimeout is the poll-driven twin of the timer: if the deadline
// has passed, running is rolled back to the snapshot and the state
// cleared.
func (m *Manager) CheckTimeout() {
	m.mu.Lock()
	if !m.active || time.Now().Before(m.deadline) {
		m.mu.Unlock()
		return
	}
	backup := m.backup
	m.clearLocked()
	m.mu.Unlock()
	m.doRollback(backup)
}

func (m *Manager) onTimeout() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	backup := m.backup
	m.clearLocked()
	m.mu.Unlock()
	m.doRollback(backup)
}

func (m *Manager) doRollback(backup *datastore.Value) {
	if err := m.rollback(backup); err != nil && m.Elog != nil {
		m.Elog.Printf("confirmed-commit rollback failed: %s", err)
	}
}

// SessionExit cancels the confirmed commit immediately when the owning
// session terminates without a persist-id.
func (m *Manager) SessionExit(session uint32) {
	m.mu.Lock()
	if !m.active || m.session != session || m.persistId != "" {
		m.mu.Unlock()
		return
	}
	backup := m.backup
	m.clearLocked()
	m.mu.Unlock()
	m.doRollback(backup)
}

func (m *Manager) clearLocked() {
	m.active = false
	m.session = 0
	m.persistId = ""
	m.backup = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.jobFile != "" {
		os.Remove(m.jobFile)
	}
}

// writeJob persists the outstanding state so a restarted daemon can
// tell an unconfirmed commit is pending. Caller holds m.mu.
func (m *Manager) writeJob() {
	if m.jobFile == "" {
		return
	}
	fl, err := os.OpenFile(m.jobFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		if m.Elog != nil {
			m.Elog.Printf("confirmed-commit job file: %s", err)
		}
		return
	}
	defer fl.Close()
	enc := json.NewEncoder(fl)
	enc.Encode(&Info{
		Session:   fmt.Sprint(m.session),
		PersistId: m.persistId,
	})
}

// LoadJob reads the persisted confirmed-commit info. Errors are
// ignored: a missing file simply means nothing is pending.
func LoadJob(jobFile string) *Info {
	info := &Info{}
	fl, err := os.Open(jobFile)
	if err != nil {
		return info
	}
	defer fl.Close()
	dec := json.NewDecoder(fl)
	dec.Decode(info)
	return info
}

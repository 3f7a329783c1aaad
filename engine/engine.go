// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package engine is the single shared context every entry point runs
// through (spec.md §4.7, §9): it owns the three datastores and their
// state machines, the monotonic transaction-id counter, the SIL
// registry, the confirmed-commit manager and the commit checker, and
// drives the edit pipeline for each operation.
package engine

import (
	"context"
	"io/ioutil"
	"log"
	"sync/atomic"
	"time"

	"github.com/danos/confd/acm"
	"github.com/danos/confd/commitcheck"
	"github.com/danos/confd/confirm"
	"github.com/danos/confd/datastore"
	"github.com/danos/confd/lock"
	"github.com/danos/confd/mgmterror"
	"github.com/danos/confd/schema"
	"github.com/danos/confd/sil"
	"github.com/danos/confd/txn"
	"github.com/danos/confd/xpath"
)

type Engine struct {
	SchemaRoot *schema.SchemaObject

	running   *Datastore
	candidate *Datastore
	startup   *Datastore

	Sil     *sil.Registry
	Eval    xpath.Evaluator
	Acm     acm.Checker
	Confirm *confirm.Manager
	checker *commitcheck.Checker

	txid uint64

	Dlog *log.Logger
	Elog *log.Logger
	Wlog *log.Logger
}

type Option func(*Engine)

func WithSil(r *sil.Registry) Option          { return func(e *Engine) { e.Sil = r } }
func WithEvaluator(ev xpath.Evaluator) Option { return func(e *Engine) { e.Eval = ev } }
func WithAcm(c acm.Checker) Option            { return func(e *Engine) { e.Acm = c } }

func WithLogs(dlog, elog, wlog *log.Logger) Option {
	return func(e *Engine) {
		e.Dlog, e.Elog, e.Wlog = dlog, elog, wlog
	}
}

// WithConfirmJobFile sets the path the confirmed-commit state is
// persisted to across daemon restarts.
func WithConfirmJobFile(path string) Option {
	return func(e *Engine) {
		e.Confirm = confirm.NewManager(e.revertRunning, path, e.Elog)
	}
}

// New builds an engine with empty Init-state datastores. Roots are
// installed with ApplyLoadRoot before the engine serves edits.
func New(schemaRoot *schema.SchemaObject, options ...Option) *Engine {
	e := &Engine{
		SchemaRoot: schemaRoot,
		Sil:        sil.NewRegistry(),
		Eval:       xpath.BasicEvaluator{},
		Acm:        acm.AllowAll{},
		Dlog:       log.New(ioutil.Discard, "", 0),
		Elog:       log.New(ioutil.Discard, "", 0),
		Wlog:       log.New(ioutil.Discard, "", 0),
	}
	e.running = newDatastore(datastore.Running, datastore.New(schemaRoot, "", ""))
	e.candidate = newDatastore(datastore.Candidate, datastore.New(schemaRoot, "", ""))
	e.startup = newDatastore(datastore.Startup, datastore.New(schemaRoot, "", ""))
	for _, opt := range options {
		opt(e)
	}
	if e.Confirm == nil {
		e.Confirm = confirm.NewManager(e.revertRunning, "", e.Elog)
	}
	e.checker = commitcheck.New(e.Eval)
	return e
}

// Datastore returns the named datastore.
func (e *Engine) Datastore(id datastore.Id) *Datastore {
	switch id {
	case datastore.Running:
		return e.running
	case datastore.Candidate:
		return e.candidate
	case datastore.Startup:
		return e.startup
	}
	return nil
}

func (e *Engine) nextTxid() uint64 {
	return atomic.AddUint64(&e.txid, 1)
}

func (e *Engine) pipeline(ds *Datastore) *txn.Pipeline {
	return &txn.Pipeline{
		Sil:   e.Sil,
		Eval:  e.Eval,
		Acm:   e.Acm,
		Locks: ds.Locks,
		Dlog:  e.Dlog,
		Elog:  e.Elog,
	}
}

// ApplyLoadRoot installs a loader-produced tree into a datastore; used
// once at boot per datastore (spec.md §6). The datastore transitions
// Init -> Ready.
func (e *Engine) ApplyLoadRoot(id datastore.Id, root *datastore.Value) error {
	ds := e.Datastore(id)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.state != StateInit {
		return mgmterror.NewOperationFailedError(
			"datastore " + id.String() + " already loaded")
	}
	ds.Root = root
	root.SortChildren()
	ds.state = StateReady
	ds.LastChange = time.Now()
	return nil
}

// EditOpts tunes one EditConfig transaction.
type EditOpts struct {
	EditType   txn.EditType
	Rootcheck  bool
	IsValidate bool
	// ContinueOnError applies the good parts of an edit whose
	// validation flagged individual nodes, rather than refusing the
	// whole edit (the startup-error=continue policy).
	ContinueOnError bool
}

// EditConfig runs one edit transaction against target: validate,
// apply, dead-node sweep, optional commit check, then commit; any
// failure past validation rolls the tree back to its pre-transaction
// state (spec.md §2, §4.4).
func (e *Engine) EditConfig(
	ctx context.Context,
	sess acm.Session,
	target datastore.Id,
	defaultOp sil.Op,
	edit *datastore.Value,
	opts EditOpts,
) (*txn.TxCb, error) {
	ds := e.Datastore(target)
	if ds == nil {
		return nil, mgmterror.NewInvalidValueError("no such datastore")
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if err := ds.writeOK(sess.Id); err != nil {
		return nil, err
	}
	if owner, denied := ds.Locks.GlobalDenies(sess.Id); denied {
		return nil, mgmterror.NewLockDeniedError(owner)
	}

	tx := &txn.TxCb{
		Txid:       e.nextTxid(),
		Target:     target,
		Session:    sess,
		EditType:   opts.EditType,
		IsValidate: opts.IsValidate,
		Rootcheck:  opts.Rootcheck,
		DefaultOp:  defaultOp,
	}
	ds.CurTxid = tx.Txid
	defer func() { ds.CurTxid = 0 }()

	pipe := e.pipeline(ds)

	if errs := pipe.Validate(ctx, tx, edit, ds.Root); errs.HasErrors() {
		if !opts.ContinueOnError {
			return tx, errs
		}
		e.Wlog.Printf("edit on %s proceeding past %d validation errors",
			target, len(errs.Errors))
	}
	if err := e.applyAndCommit(ctx, pipe, tx, ds, edit); err != nil {
		return tx, err
	}
	return tx, nil
}

// applyAndCommit runs phases A, V2, C1, C2 with rollback on failure,
// then advances the datastore counters. Caller holds ds.mu and has
// validated the edit.
func (e *Engine) applyAndCommit(
	ctx context.Context,
	pipe *txn.Pipeline,
	tx *txn.TxCb,
	ds *Datastore,
	edit *datastore.Value,
) error {
	if err := pipe.Apply(ctx, tx, edit, ds.Root); err != nil {
		pipe.Rollback(ctx, tx)
		return err
	}
	if err := pipe.SweepDeadNodes(ctx, tx, ds.Root); err != nil {
		pipe.Rollback(ctx, tx)
		return err
	}
	if tx.Rootcheck {
		if errs := e.checker.Check(tx, ds.Root, e.SchemaRoot); errs.HasErrors() {
			pipe.Rollback(ctx, tx)
			return errs
		}
	}
	if tx.IsValidate {
		// A validate-only transaction never commits.
		pipe.Rollback(ctx, tx)
		return nil
	}
	if err := pipe.Commit(ctx, tx); err != nil {
		pipe.Rollback(ctx, tx)
		return err
	}

	ds.LastTxid = tx.Txid
	ds.LastChange = time.Now()
	e.logAudit(tx)
	return nil
}

func (e *Engine) logAudit(tx *txn.TxCb) {
	for _, rec := range tx.Audit {
		if rec.Value != "" {
			e.Dlog.Printf("audit txid=%d %s %s=%q", tx.Txid, rec.Op, rec.Path, rec.Value)
		} else {
			e.Dlog.Printf("audit txid=%d %s %s", tx.Txid, rec.Op, rec.Path)
		}
	}
}

// Validate runs the full commit check over candidate without touching
// any tree (:validate, spec.md §4.4/C1).
func (e *Engine) Validate(ctx context.Context, sess acm.Session) error {
	cand := e.candidate
	cand.mu.Lock()
	defer cand.mu.Unlock()
	if !cand.readable() {
		return mgmterror.NewOperationFailedError("candidate is " + cand.state.String())
	}
	tx := &txn.TxCb{
		Txid:       e.nextTxid(),
		Target:     datastore.Candidate,
		Session:    sess,
		EditType:   txn.EditFull,
		IsValidate: true,
		Rootcheck:  true,
	}
	if errs := e.checker.Check(tx, cand.Root, e.SchemaRoot); errs.HasErrors() {
		return errs
	}
	return nil
}

// CommitOpts carries the <commit> arguments.
type CommitOpts struct {
	Confirm *confirm.Options
	Comment string
	// Revert requests immediate rollback of an outstanding confirmed
	// commit (<cancel-commit>).
	Revert bool
}

// Commit promotes candidate into running (spec.md §2, §4.6). The
// candidate and running transaction mutexes are taken in that order to
// prevent deadlock (spec.md §5). A confirmed commit snapshots running
// first and arms the revert timer.
func (e *Engine) Commit(ctx context.Context, sess acm.Session, opts CommitOpts) (*txn.TxCb, error) {
	if err := e.Confirm.Allow(sess.Id, opts.Confirm, opts.Revert); err != nil {
		return nil, err
	}
	if opts.Revert {
		return nil, e.Confirm.Revert()
	}
	confirming := e.Confirm.Active() &&
		(opts.Confirm == nil || !opts.Confirm.Confirmed)

	cand, run := e.candidate, e.running
	cand.mu.Lock()
	defer cand.mu.Unlock()
	run.mu.Lock()
	defer run.mu.Unlock()

	if err := run.writeOK(sess.Id); err != nil {
		return nil, err
	}
	if owner, denied := run.Locks.GlobalDenies(sess.Id); denied {
		return nil, mgmterror.NewLockDeniedError(owner)
	}

	var backup *datastore.Value
	if opts.Confirm != nil && opts.Confirm.Confirmed {
		backup = datastore.Clone(run.Root, true)
	}

	edit := buildCommitEdit(cand.Root, run.Root, false)
	tx := &txn.TxCb{
		Txid:      e.nextTxid(),
		Target:    datastore.Running,
		Session:   sess,
		EditType:  txn.EditFull,
		Rootcheck: true,
		DefaultOp: sil.OpCommit,
	}
	run.CurTxid = tx.Txid
	defer func() { run.CurTxid = 0 }()

	pipe := e.pipeline(run)
	if errs := pipe.Validate(ctx, tx, edit, run.Root); errs.HasErrors() {
		return tx, errs
	}
	if err := e.applyAndCommit(ctx, pipe, tx, run, edit); err != nil {
		return tx, err
	}

	clearAllDirty(cand.Root)
	if opts.Comment != "" {
		e.Dlog.Printf("commit txid=%d: %s", tx.Txid, opts.Comment)
	}

	if confirming {
		e.Confirm.Confirm()
	}
	if opts.Confirm != nil && opts.Confirm.Confirmed {
		e.Confirm.Start(sess.Id, opts.Confirm, backup)
	}
	return tx, nil
}

// CopyConfig replaces dst's contents with a copy of src's (spec.md §2:
// <copy-config> is a full-tree replace with rootcheck).
func (e *Engine) CopyConfig(ctx context.Context, sess acm.Session, src, dst datastore.Id) (*txn.TxCb, error) {
	if src == dst {
		return nil, mgmterror.NewInvalidValueError("source and target are the same datastore")
	}
	sds, dds := e.Datastore(src), e.Datastore(dst)
	if sds == nil || dds == nil {
		return nil, mgmterror.NewInvalidValueError("no such datastore")
	}

	sds.mu.Lock()
	srcRoot := datastore.Clone(sds.Root, true)
	sds.mu.Unlock()

	dds.mu.Lock()
	defer dds.mu.Unlock()
	if err := dds.writeOK(sess.Id); err != nil {
		return nil, err
	}

	edit := replaceEdit(srcRoot, dds.Root)
	tx := &txn.TxCb{
		Txid:      e.nextTxid(),
		Target:    dst,
		Session:   sess,
		EditType:  txn.EditFull,
		Rootcheck: true,
		DefaultOp: sil.OpNone,
	}
	dds.CurTxid = tx.Txid
	defer func() { dds.CurTxid = 0 }()

	pipe := e.pipeline(dds)
	if errs := pipe.Validate(ctx, tx, edit, dds.Root); errs.HasErrors() {
		return tx, errs
	}
	if err := e.applyAndCommit(ctx, pipe, tx, dds, edit); err != nil {
		return tx, err
	}
	return tx, nil
}

// revertRunning restores running from a confirmed-commit backup via a
// full fresh transaction (spec.md §5: the timer never preempts an
// in-flight transaction; it queues behind the mutex like any other).
func (e *Engine) revertRunning(backup *datastore.Value) error {
	run := e.running
	run.mu.Lock()
	defer run.mu.Unlock()

	edit := buildCommitEdit(backup, run.Root, true)
	tx := &txn.TxCb{
		Txid:      e.nextTxid(),
		Target:    datastore.Running,
		Session:   acm.Session{Superuser: true},
		EditType:  txn.EditFull,
		Rootcheck: false,
		DefaultOp: sil.OpCommit,
	}
	run.CurTxid = tx.Txid
	defer func() { run.CurTxid = 0 }()

	pipe := e.pipeline(run)
	ctx := context.Background()
	if errs := pipe.Validate(ctx, tx, edit, run.Root); errs.HasErrors() {
		return errs
	}
	return e.applyAndCommit(ctx, pipe, tx, run, edit)
}

// Lock takes the global lock on a datastore. It is refused while a
// transaction is in flight, while partial locks exist, or when another
// session holds it (spec.md §4.2).
func (e *Engine) Lock(sess acm.Session, id datastore.Id) error {
	ds := e.Datastore(id)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.CurTxid != 0 {
		return mgmterror.NewInUseError()
	}
	if err := ds.Locks.Lock(sess.Id, sess.User); err != nil {
		return err
	}
	ds.refreshLockState()
	return nil
}

func (e *Engine) Unlock(sess acm.Session, id datastore.Id) error {
	ds := e.Datastore(id)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if err := ds.Locks.Unlock(sess.Id); err != nil {
		return err
	}
	ds.refreshLockState()
	return nil
}

// PartialLock takes an RFC 5717 subtree lock on running.
func (e *Engine) PartialLock(sess acm.Session, selects []string) (*lock.PartialLock, error) {
	run := e.running
	run.mu.Lock()
	defer run.mu.Unlock()

	pcbs := make([]*xpath.Pcb, 0, len(selects))
	for _, s := range selects {
		pcbs = append(pcbs, xpath.Parse(s))
	}
	pl, err := run.Locks.AddPartialLock(
		run.Root, sess, pcbs, e.Eval, e.Acm, e.Confirm.Active())
	if err != nil {
		return nil, err
	}
	run.refreshLockState()
	e.Dlog.Printf("partial-lock %d (%s) granted to session %d",
		pl.Id, pl.Token, sess.Id)
	return pl, nil
}

func (e *Engine) PartialUnlock(sess acm.Session, id uint32) error {
	run := e.running
	run.mu.Lock()
	defer run.mu.Unlock()
	if err := run.Locks.ReleasePartialLock(sess.Id, id); err != nil {
		return err
	}
	run.refreshLockState()
	return nil
}

// SessionExit releases everything a terminating session holds: its
// partial locks, any global locks, and an unpersisted confirmed
// commit (spec.md §4.2, §4.6).
func (e *Engine) SessionExit(sess acm.Session) {
	for _, ds := range []*Datastore{e.running, e.candidate, e.startup} {
		ds.mu.Lock()
		ds.Locks.ReleasePartialLocks(sess.Id)
		if ds.Locks.Locked() == sess.Id {
			ds.Locks.Unlock(sess.Id)
		}
		ds.refreshLockState()
		ds.mu.Unlock()
	}
	e.Confirm.SessionExit(sess.Id)
}

// Shutdown moves every datastore to Cleanup; further reads and writes
// are refused.
func (e *Engine) Shutdown() {
	for _, ds := range []*Datastore{e.running, e.candidate, e.startup} {
		ds.mu.Lock()
		ds.state = StateCleanup
		ds.mu.Unlock()
	}
}

func clearAllDirty(v *datastore.Value) {
	v.Flags.Dirty = false
	v.Flags.SubtreeDirty = false
	for _, c := range v.Children {
		clearAllDirty(c)
	}
}

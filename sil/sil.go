// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package sil implements the Server Instrumentation Library callback
// contract and the registry that dispatches to it (spec.md §4.7, §6):
// callbacks are looked up by schema node, walking up to the nearest
// ancestor that defines one, and invoked once per phase/operation.
package sil

import (
	"context"

	"github.com/danos/confd/schema"
)

// Op is the effective edit operation a callback is invoked for. It lives
// here (rather than in package datastore) so that datastore can depend on
// sil without sil depending back on datastore.
type Op int

const (
	OpNone Op = iota
	OpMerge
	OpReplace
	OpCreate
	OpDelete
	OpRemove
	OpCommit
	OpLoad
)

func (o Op) String() string {
	switch o {
	case OpNone:
		return "none"
	case OpMerge:
		return "merge"
	case OpReplace:
		return "replace"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpRemove:
		return "remove"
	case OpCommit:
		return "commit"
	case OpLoad:
		return "load"
	}
	return "unknown"
}

// Phase is the pipeline phase a callback is invoked from.
type Phase int

const (
	PhaseValidate Phase = iota
	PhaseApply
	PhaseCommit
	PhaseRollback
)

func (p Phase) String() string {
	switch p {
	case PhaseValidate:
		return "validate"
	case PhaseApply:
		return "apply"
	case PhaseCommit:
		return "commit"
	case PhaseRollback:
		return "rollback"
	}
	return "unknown"
}

// Node is the minimal view of a value-tree node a callback needs. It is
// satisfied by *datastore.Value without sil importing datastore. Method
// names are prefixed "Node" so they never collide with the Value struct's
// own Name/Namespace fields.
type Node interface {
	NodeName() string
	NodeNamespace() string
	NodePath() string
	NodeValue() string
}

// Status distinguishes success, a no-op ("Skipped"), and failure, per
// spec.md §6: "Skipped is distinguished from Ok and from errors."
type Status struct {
	skipped bool
	err     error
}

func OK() Status            { return Status{} }
func Skipped() Status       { return Status{skipped: true} }
func Fail(err error) Status { return Status{err: err} }

func (s Status) IsOK() bool      { return !s.skipped && s.err == nil }
func (s Status) IsSkipped() bool { return s.skipped }
func (s Status) Err() error      { return s.err }

// Call bundles everything a callback is invoked with (spec.md §6):
// `fn cb(session, txn, phase, op, new_node, cur_node) -> Status`.
type Call struct {
	Session uint32
	Txid    uint64
	Phase   Phase
	Op      Op
	NewNode Node
	CurNode Node
}

// Callback is the SIL entry point for one phase. Validate must not
// mutate; apply may update ancillary external state; commit must
// finalise; rollback must revert what apply did.
type Callback func(ctx context.Context, call Call) Status

// CallbackSet is everything a schema node registers, per-phase.
type CallbackSet struct {
	Validate Callback
	Apply    Callback
	Commit   Callback
	Rollback Callback
}

func (cs *CallbackSet) callbackFor(phase Phase) Callback {
	if cs == nil {
		return nil
	}
	switch phase {
	case PhaseValidate:
		return cs.Validate
	case PhaseApply:
		return cs.Apply
	case PhaseCommit:
		return cs.Commit
	case PhaseRollback:
		return cs.Rollback
	}
	return nil
}

// Registry maps schema nodes to CallbackSets, keyed by object identity.
// Lookup walks from a node up to the root until it finds a match ("the
// nearest ancestor wins", spec.md §9).
type Registry struct {
	sets map[*schema.SchemaObject]*CallbackSet
}

func NewRegistry() *Registry {
	return &Registry{sets: make(map[*schema.SchemaObject]*CallbackSet)}
}

// Register attaches a CallbackSet to a schema node.
func (r *Registry) Register(node *schema.SchemaObject, cs *CallbackSet) {
	r.sets[node] = cs
}

// Lookup walks from node upward (including node itself) and returns the
// first CallbackSet found, and the schema node it was found on (which may
// be an ancestor of the node originally being processed — its own path is
// used for the invocation, the ancestor's schema decided whether one
// happens at all).
func (r *Registry) Lookup(node *schema.SchemaObject) (*CallbackSet, *schema.SchemaObject) {
	var found *CallbackSet
	var at *schema.SchemaObject
	node.WalkUp(func(n *schema.SchemaObject) bool {
		if cs, ok := r.sets[n]; ok {
			found, at = cs, n
			return true
		}
		return false
	})
	return found, at
}

// Invoke looks up the callback for (node, phase) and calls it if one
// exists; a node with no registered (or inherited) callback for that
// phase is a no-op success, not an error.
func (r *Registry) Invoke(ctx context.Context, node *schema.SchemaObject, call Call) Status {
	cs, _ := r.Lookup(node)
	cb := cs.callbackFor(call.Phase)
	if cb == nil {
		return OK()
	}
	return cb(ctx, call)
}

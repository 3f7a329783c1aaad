// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package txn

import (
	"github.com/danos/confd/datastore"
	"github.com/danos/confd/sil"
)

// EditAction classifies the tree mutation an UndoRec reverses
// (spec.md §3).
type EditAction int

const (
	ActAdd EditAction = iota
	ActSet
	ActMove
	ActReplace
	ActDelete
	ActDeleteDefault
)

func (a EditAction) String() string {
	switch a {
	case ActAdd:
		return "add"
	case ActSet:
		return "set"
	case ActMove:
		return "move"
	case ActReplace:
		return "replace"
	case ActDelete:
		return "delete"
	case ActDeleteDefault:
		return "delete-default"
	}
	return "unknown"
}

// Result is the per-phase outcome recorded on each UndoRec. Skipped is
// distinct from both success and failure: a commit that never reached a
// record leaves it ResSkipped, which rollback uses to decide between
// the reversing SIL call pair and a plain rollback callback.
type Result int

const (
	ResUnset Result = iota
	ResOK
	ResSkipped
	ResFailed
)

// ExtraDeleted records one sibling removed as a side effect of
// choice/case exclusivity, with the marker standing in at its old tree
// position.
type ExtraDeleted struct {
	Node   *datastore.Value
	Marker *datastore.Value
}

// UndoRec is one reversible mutation performed in the apply phase
// (spec.md §3, §4.3). Records are kept in apply order and replayed in
// reverse on rollback.
type UndoRec struct {
	EditOp sil.Op
	Action EditAction

	Parent    *datastore.Value
	NewNode   *datastore.Value
	NewMarker *datastore.Value
	CurNode   *datastore.Value
	CurClone  *datastore.Value
	CurMarker *datastore.Value

	ExtraDeleted []ExtraDeleted

	ApplyRes    Result
	CommitRes   Result
	RollbackRes Result

	// FreeCur marks CurNode for freeing at commit (replace swaps the
	// old subtree out; it is only truly gone once commit finalises).
	FreeCur bool
}

// ReverseCall describes the SIL invocation that undoes rec, per the
// reverse_edit table of spec.md §4.3. It maps each edit_action to its
// inverse for callback purposes only; tree mutation reversal is
// Pipeline.Rollback's job.
type ReverseCall struct {
	Op      sil.Op
	NewNode *datastore.Value
	CurNode *datastore.Value
	// NoOp is set when no reverse SIL call is needed (DeleteDefault
	// where the schema default was not displaced).
	NoOp bool
}

func (rec *UndoRec) ReverseEdit() ReverseCall {
	switch rec.Action {
	case ActAdd:
		return ReverseCall{Op: sil.OpDelete, NewNode: rec.NewNode}
	case ActSet:
		return ReverseCall{Op: rec.EditOp, NewNode: rec.CurClone, CurNode: rec.CurNode}
	case ActMove:
		return ReverseCall{Op: rec.EditOp, NewNode: rec.CurNode, CurNode: rec.NewNode}
	case ActReplace:
		return ReverseCall{Op: sil.OpReplace, NewNode: rec.CurNode, CurNode: rec.NewNode}
	case ActDelete:
		return ReverseCall{Op: sil.OpCreate, NewNode: rec.CurNode}
	case ActDeleteDefault:
		if rec.CurClone != nil && !rec.CurClone.Flags.Default {
			return ReverseCall{Op: sil.OpCreate, NewNode: rec.CurNode}
		}
		return ReverseCall{NoOp: true}
	}
	return ReverseCall{NoOp: true}
}

// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package txn implements the per-transaction state (TxCb, spec.md §3),
// the ordered undo log (spec.md §4.3) and the four-phase edit pipeline
// that drives one edit against one datastore (spec.md §4.4).
package txn

import (
	"github.com/danos/confd/acm"
	"github.com/danos/confd/datastore"
	"github.com/danos/confd/sil"
)

// EditType distinguishes a full-tree operation (<validate>,
// <copy-config>, top-level replace) from a partial edit; the commit
// checker prunes its schema walk for partial edits only.
type EditType int

const (
	EditFull EditType = iota
	EditPartial
)

// AuditRec is one entry of the post-commit audit trail, emitted in
// apply order for every non-load edit against running.
type AuditRec struct {
	Op    sil.Op
	Path  string
	Value string
}

// TxCb is one in-flight transaction against one datastore (spec.md §3).
type TxCb struct {
	Txid    uint64
	Target  datastore.Id
	Session acm.Session

	EditType   EditType
	IsValidate bool
	Rootcheck  bool

	// DefaultOp is the edit-config default-operation, inherited by
	// nodes carrying no explicit operation attribute.
	DefaultOp sil.Op

	Undo      []*UndoRec
	DeadNodes []*datastore.Value
	Audit     []AuditRec

	ApplyRes    error
	CommitRes   error
	RollbackRes error
}

// Record appends rec to the undo log; ordering is apply order.
func (tx *TxCb) Record(rec *UndoRec) *UndoRec {
	rec.ApplyRes = ResOK
	tx.Undo = append(tx.Undo, rec)
	return rec
}

// cvtAuditOp maps the effective op of an applied edit to the op the
// audit trail reports. Merge-type operations (merge, and the commit op
// a candidate promotion walks with) record as replace; with-defaults
// basic-mode remapping is deliberately not done.
func cvtAuditOp(op sil.Op) sil.Op {
	switch op {
	case sil.OpMerge, sil.OpCommit, sil.OpReplace:
		return sil.OpReplace
	}
	return op
}

// audit appends an audit record for an applied edit. Load-time edits
// are never audited, and only edits against running generate records.
func (tx *TxCb) audit(op sil.Op, node *datastore.Value) {
	if op == sil.OpLoad || tx.Target != datastore.Running || tx.IsValidate {
		return
	}
	rec := AuditRec{Op: cvtAuditOp(op), Path: node.Path()}
	if node.IsLeaf() {
		rec.Value = node.ScalarValue()
	}
	tx.Audit = append(tx.Audit, rec)
}

// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package txn

import (
	"context"
	"log"

	"github.com/danos/confd/acm"
	"github.com/danos/confd/datastore"
	"github.com/danos/confd/lock"
	"github.com/danos/confd/mgmterror"
	"github.com/danos/confd/schema"
	"github.com/danos/confd/sil"
	"github.com/danos/confd/xpath"
)

// Pipeline drives the four phases of one transaction (spec.md §4.4):
// Validate, Apply, the dead-node sweep, Commit and Rollback. One
// Pipeline is shared by all transactions of an engine; per-transaction
// state lives entirely in the TxCb.
type Pipeline struct {
	Sil   *sil.Registry
	Eval  xpath.Evaluator
	Acm   acm.Checker
	Locks *lock.Table
	Dlog  *log.Logger
	Elog  *log.Logger
}

// silActive reports whether SIL callbacks fire for this transaction.
// Candidate edits must not double-invoke SIL; the callbacks run once,
// when the change reaches running.
func (p *Pipeline) silActive(tx *TxCb) bool {
	return p.Sil != nil && tx.Target == datastore.Running && !tx.IsValidate
}

// --- Phase V: Validate -------------------------------------------------

// Validate walks newRoot against curRoot, computing each node's
// effective operation and running the per-node checks of spec.md
// §4.4/V. Errors accumulate: scanning continues past a bad node so the
// client sees every problem in one reply; bad nodes are marked with a
// sticky Res and excluded from apply.
func (p *Pipeline) Validate(ctx context.Context, tx *TxCb, newRoot, curRoot *datastore.Value) *mgmterror.List {
	errs := &mgmterror.List{}
	p.validateNode(ctx, tx, errs, newRoot, curRoot, nil, tx.DefaultOp)
	return errs
}

func (p *Pipeline) validateNode(
	ctx context.Context,
	tx *TxCb,
	errs *mgmterror.List,
	new, cur, curParent *datastore.Value,
	parentOp sil.Op,
) {
	op, err := effectiveOp(parentOp, new)
	if err != nil {
		p.flagBad(errs, new, err)
		return
	}
	new.EditOp = op

	isRoot := new.Schema != nil && new.Schema.Kind == schema.RootKind
	if !isRoot {
		if err := p.validateOne(ctx, tx, op, new, cur, curParent); err != nil {
			p.flagBad(errs, new, err)
			return
		}
	}

	for _, nc := range new.VisibleChildren() {
		var cc *datastore.Value
		if cur != nil {
			cc = cur.FirstChildMatch(nc)
		}
		p.validateNode(ctx, tx, errs, nc, cc, cur, op)
	}
}

func (p *Pipeline) flagBad(errs *mgmterror.List, node *datastore.Value, err *mgmterror.Error) {
	if err.Path == "" {
		err.WithPath(node.Path())
	}
	node.Res = err
	node.Flags.Deleted = true
	errs.Add(err)
}

// validateOne runs the numbered checks of spec.md §4.4/V against one
// node. The first failing check wins for the node; siblings are still
// scanned by the caller.
func (p *Pipeline) validateOne(
	ctx context.Context,
	tx *TxCb,
	op sil.Op,
	new, cur, curParent *datastore.Value,
) *mgmterror.Error {
	mutating := opMutates(op)

	// 2. ACM.
	if mutating && op != sil.OpLoad && p.Acm != nil {
		if !p.Acm.Allowed(tx.Session, new.Path(), acmOp(op)) {
			return mgmterror.NewAccessDeniedError(new.Path())
		}
	}

	// 3. Write-lock: any ancestor-or-self of the current-tree position
	// partial-locked by another session denies the edit.
	if mutating && p.Locks != nil {
		lockNode := cur
		if lockNode == nil {
			lockNode = curParent
		}
		if lockNode != nil {
			if err := p.Locks.WriteOK(lockNode, tx.Session.Id); err != nil {
				if merr, ok := err.(*mgmterror.Error); ok {
					return merr
				}
				return mgmterror.NewOperationFailedError(err.Error())
			}
		}
	}

	// 4. Max-access: state nodes reject any mutation.
	if mutating && new.Schema != nil && !new.Schema.Config {
		return mgmterror.NewAccessDeniedError(new.Path()).
			WithMessage("node is read-only")
	}

	// 5. Insert attributes.
	if new.EditVars.InsertOp != datastore.InsertNone {
		sch := new.Schema
		if sch == nil || !sch.IsList() || !sch.OrderedByUser {
			return mgmterror.NewUnexpectedInsertAttrsError(new.Path())
		}
		if new.EditVars.InsertOp == datastore.InsertBefore ||
			new.EditVars.InsertOp == datastore.InsertAfter {
			if curParent == nil || !insertRefResolves(curParent, new) {
				return mgmterror.NewInsertMissingInstanceError(new.EditVars.InsertRef)
			}
		}
	}

	// 6. List keys all present.
	if new.Schema != nil && new.Schema.Kind == schema.List && mutating &&
		op != sil.OpDelete && op != sil.OpRemove {
		for _, k := range new.Schema.Keys {
			if new.FindChild("", k) == nil {
				return mgmterror.NewMissingKeyError(new.Path() + "/" + k)
			}
		}
	}

	// 7. wd:default is only valid on a leaf whose schema default equals
	// the supplied value.
	if new.Flags.Default {
		sch := new.Schema
		if sch == nil || sch.Kind != schema.Leaf || !sch.HasDefault ||
			sch.Default != new.Scalar {
			return mgmterror.NewInvalidValueError(
				"wd:default set on a node whose value is not the schema default").
				WithPath(new.Path())
		}
	}

	// 8. SIL validate callback.
	if p.silActive(tx) && new.Schema != nil {
		st := p.Sil.Invoke(ctx, new.Schema, sil.Call{
			Session: tx.Session.Id,
			Txid:    tx.Txid,
			Phase:   sil.PhaseValidate,
			Op:      op,
			NewNode: new,
			CurNode: silNode(cur),
		})
		if st.Err() != nil {
			return mgmterror.NewOperationFailedError(st.Err().Error()).
				WithPath(new.Path())
		}
	}
	return nil
}

// effectiveOp combines the inherited operation with a node's explicit
// operation attribute, per the RFC 6241 §7.2 table. Complete-content
// operations (create, replace) and deletions admit no differing nested
// operation.
func effectiveOp(parentOp sil.Op, node *datastore.Value) (sil.Op, *mgmterror.Error) {
	explicit := node.EditOp
	if explicit == sil.OpNone {
		return parentOp, nil
	}
	switch parentOp {
	case sil.OpDelete, sil.OpRemove, sil.OpCreate, sil.OpReplace:
		if explicit != parentOp {
			return sil.OpNone, mgmterror.NewBadAttributeError(
				"operation", node.Path())
		}
	}
	return explicit, nil
}

func opMutates(op sil.Op) bool {
	switch op {
	case sil.OpMerge, sil.OpReplace, sil.OpCreate, sil.OpDelete,
		sil.OpRemove, sil.OpCommit, sil.OpLoad:
		return true
	}
	return false
}

func acmOp(op sil.Op) acm.Op {
	switch op {
	case sil.OpCreate:
		return acm.OpCreate
	case sil.OpDelete, sil.OpRemove:
		return acm.OpDelete
	default:
		return acm.OpUpdate
	}
}

func insertRefResolves(curParent, new *datastore.Value) bool {
	for _, c := range curParent.VisibleChildren() {
		if c.Schema != new.Schema {
			continue
		}
		if new.Schema.Kind == schema.List {
			if datastore.KeyTuple(c) == new.EditVars.InsertKey {
				return true
			}
		} else if c.Scalar == new.EditVars.InsertKey {
			return true
		}
	}
	return false
}

// silNode avoids a typed-nil sil.Node when cur is absent.
func silNode(v *datastore.Value) sil.Node {
	if v == nil {
		return nil
	}
	return v
}

// --- Phase A: Apply ----------------------------------------------------

// Apply materialises the edit into the current tree, recording one
// UndoRec per mutation. Any error stops the transaction immediately;
// the caller must then run Rollback.
func (p *Pipeline) Apply(ctx context.Context, tx *TxCb, newRoot, curRoot *datastore.Value) error {
	err := p.applyNode(ctx, tx, newRoot, curRoot, nil)
	tx.ApplyRes = err
	return err
}

func (p *Pipeline) applyNode(ctx context.Context, tx *TxCb, new, cur, curParent *datastore.Value) error {
	if new.Res != nil {
		// Flagged by validation; skipped under an error-continue policy.
		return nil
	}
	op := new.EditOp

	if p.applyHere(op, new, cur) {
		moveAndRecurse, err := p.applyWrite(ctx, tx, op, new, cur, curParent)
		if err != nil {
			return err
		}
		if !moveAndRecurse {
			return nil
		}
		// A list-entry move still merges its children below.
	}

	for _, nc := range new.VisibleChildren() {
		var cc *datastore.Value
		if cur != nil {
			cc = cur.FirstChildMatch(nc)
		}
		if err := p.applyNode(ctx, tx, nc, cc, cur); err != nil {
			return err
		}
	}
	return nil
}

// applyHere is the predicate controlling where an edit materialises
// (spec.md §4.4/A): never at the conceptual root; for the commit op
// only where dirty; for delete/remove always; merge applies at leaves
// and wherever the current tree has no counterpart; the
// complete-content ops apply at the node they name.
func (p *Pipeline) applyHere(op sil.Op, new, cur *datastore.Value) bool {
	if new.Schema != nil && new.Schema.Kind == schema.RootKind {
		return false
	}
	switch op {
	case sil.OpCommit:
		return new.Flags.Dirty && (new.IsLeaf() || cur == nil)
	case sil.OpDelete, sil.OpRemove:
		return true
	case sil.OpMerge:
		if cur == nil || new.IsLeaf() {
			return true
		}
		// Re-positioning an existing ordered-by-user entry.
		return new.Schema != nil && new.Schema.Kind == schema.List &&
			new.EditVars.InsertOp != datastore.InsertNone
	case sil.OpReplace, sil.OpCreate, sil.OpLoad:
		return true
	}
	return false
}

// applyWrite performs one entry of the op/cur table of spec.md §4.4/A.
// It returns moveAndRecurse=true when the caller should still merge the
// node's children (a list-entry move).
func (p *Pipeline) applyWrite(
	ctx context.Context,
	tx *TxCb,
	op sil.Op,
	new, cur, curParent *datastore.Value,
) (moveAndRecurse bool, err error) {
	var rec *UndoRec

	switch op {
	case sil.OpMerge, sil.OpCommit:
		switch {
		case cur != nil && cur.IsLeaf():
			if cur.ScalarValue() == new.Scalar && !cur.Flags.Default {
				return false, nil
			}
			rec = p.setLeaf(tx, op, new, cur)
		case cur != nil: // existing list entry, re-position
			marker, merr := curParent.MoveChild(cur, new.EditVars)
			if merr != nil {
				return false, mgmterror.NewInsertMissingInstanceError(new.EditVars.InsertRef)
			}
			rec = tx.Record(&UndoRec{
				EditOp: op, Action: ActMove,
				Parent: curParent, NewNode: new,
				CurNode: cur, CurMarker: marker,
			})
			moveAndRecurse = true
		default:
			rec, err = p.addNode(tx, op, new, curParent)
			if err != nil {
				return false, err
			}
		}

	case sil.OpReplace:
		switch {
		case cur != nil && cur.IsLeaf():
			rec = p.setLeaf(tx, op, new, cur)
		case cur != nil:
			repl := p.materialize(new)
			datastore.Swap(cur, repl)
			cur.Flags.Deleted = true
			repl.SetDirty()
			rec = tx.Record(&UndoRec{
				EditOp: op, Action: ActReplace,
				Parent: curParent, NewNode: repl, CurNode: cur,
				FreeCur: true,
			})
		default:
			rec, err = p.addNode(tx, op, new, curParent)
			if err != nil {
				return false, err
			}
		}

	case sil.OpCreate:
		switch {
		case cur != nil && cur.IsLeaf() && cur.Flags.Default:
			rec = p.setLeaf(tx, op, new, cur)
		case cur != nil:
			return false, mgmterror.NewDataExistsError(cur.Path())
		default:
			rec, err = p.addNode(tx, op, new, curParent)
			if err != nil {
				return false, err
			}
		}

	case sil.OpDelete, sil.OpRemove:
		if cur == nil {
			if op == sil.OpRemove {
				return false, nil
			}
			return false, mgmterror.NewDataMissingError(new.Path())
		}
		if cur.IsLeaf() && cur.Schema != nil && cur.Schema.HasDefault &&
			cur.Schema.Kind == schema.Leaf {
			// Deleting a leaf with a schema default resets it.
			clone := datastore.Clone(cur, false)
			cur.Scalar = cur.Schema.Default
			cur.Flags.Default = true
			cur.SetDirty()
			rec = tx.Record(&UndoRec{
				EditOp: op, Action: ActDeleteDefault,
				Parent: curParent, NewNode: new,
				CurNode: cur, CurClone: clone,
			})
		} else {
			marker := cur.MarkDeleted()
			marker.MarkSubtreeDirty()
			rec = tx.Record(&UndoRec{
				EditOp: op, Action: ActDelete,
				Parent: curParent, NewNode: new,
				CurNode: cur, CurMarker: marker,
				FreeCur: true,
			})
		}

	case sil.OpLoad:
		rec, err = p.addNode(tx, op, new, curParent)
		if err != nil {
			return false, err
		}

	default:
		return false, mgmterror.NewInternalError("unexpected effective op " + op.String())
	}

	if rec == nil {
		return moveAndRecurse, nil
	}

	if p.silActive(tx) {
		sch := recSchema(rec)
		if sch != nil {
			st := p.Sil.Invoke(ctx, sch, sil.Call{
				Session: tx.Session.Id,
				Txid:    tx.Txid,
				Phase:   sil.PhaseApply,
				Op:      op,
				NewNode: silNode(rec.NewNode),
				CurNode: silNode(rec.CurNode),
			})
			if st.Err() != nil {
				return false, mgmterror.NewOperationFailedError(st.Err().Error())
			}
		}
	}

	audited := rec.NewNode
	if audited == nil {
		audited = rec.CurNode
	}
	tx.audit(op, audited)
	return moveAndRecurse, nil
}

func (p *Pipeline) setLeaf(tx *TxCb, op sil.Op, new, cur *datastore.Value) *UndoRec {
	clone := datastore.Clone(cur, false)
	cur.Scalar = new.Scalar
	cur.Flags.Default = new.Flags.Default
	cur.SetDirty()
	return tx.Record(&UndoRec{
		EditOp: op, Action: ActSet,
		Parent: cur.Parent(), NewNode: new,
		CurNode: cur, CurClone: clone,
	})
}

func (p *Pipeline) addNode(tx *TxCb, op sil.Op, new, curParent *datastore.Value) (*UndoRec, error) {
	if curParent == nil {
		return nil, mgmterror.NewInternalError("insert with no parent in current tree")
	}
	inserted := p.materialize(new)
	rec := &UndoRec{
		EditOp: op, Action: ActAdd,
		Parent: curParent, NewNode: inserted,
	}
	err := curParent.AddChild(inserted, func(node, marker *datastore.Value) {
		rec.ExtraDeleted = append(rec.ExtraDeleted, ExtraDeleted{Node: node, Marker: marker})
	})
	if err != nil {
		if datastore.IsInsertMissingInstance(err) {
			return nil, mgmterror.NewInsertMissingInstanceError(new.EditVars.InsertRef)
		}
		return nil, mgmterror.NewOperationFailedError(err.Error())
	}
	inserted.SetDirty()
	return tx.Record(rec), nil
}

// materialize deep-copies the PDU node into a tree-ready value: edit
// state stripped, defaults filled in for any absent defaulted leaf.
func (p *Pipeline) materialize(new *datastore.Value) *datastore.Value {
	v := datastore.Clone(new, true)
	stripEditState(v)
	v.EditVars = new.EditVars // placement attrs still drive insertion
	addDefaults(v)
	return v
}

func stripEditState(v *datastore.Value) {
	v.EditOp = sil.OpNone
	v.EditVars = datastore.EditVars{}
	v.Res = nil
	v.Flags.Dirty = false
	v.Flags.SubtreeDirty = false
	for _, c := range v.Children {
		stripEditState(c)
	}
}

// addDefaults inserts a leaf for every schema default absent below v
// (spec.md §4.4/A: "on insertion of a non-leaf node, recursively add
// defaults").
func addDefaults(v *datastore.Value) {
	if v.Schema == nil || v.IsLeaf() {
		return
	}
	for _, cs := range v.Schema.Children {
		if cs.Kind == schema.Leaf && cs.HasDefault && v.FindChild(cs.Module, cs.Name) == nil {
			d := datastore.New(cs, cs.Name, v.Namespace)
			d.Scalar = cs.Default
			d.Flags.Default = true
			v.InsertOrdered(d)
		}
	}
	for _, c := range v.VisibleChildren() {
		addDefaults(c)
	}
}

func recSchema(rec *UndoRec) *schema.SchemaObject {
	if rec.NewNode != nil && rec.NewNode.Schema != nil {
		return rec.NewNode.Schema
	}
	if rec.CurNode != nil && rec.CurNode.Schema != nil {
		return rec.CurNode.Schema
	}
	return nil
}

// --- Phase V2: dead-node sweep ----------------------------------------

// SweepDeadNodes repeatedly evaluates every when-guard in the tree
// against the post-apply snapshot, deleting nodes whose guard is false,
// until a pass removes nothing (one deletion may falsify another
// node's when).
func (p *Pipeline) SweepDeadNodes(ctx context.Context, tx *TxCb, root *datastore.Value) error {
	for {
		removed, err := p.sweepOnce(ctx, tx, root, root)
		if err != nil {
			tx.ApplyRes = err
			return err
		}
		if !removed {
			return nil
		}
	}
}

func (p *Pipeline) sweepOnce(ctx context.Context, tx *TxCb, v, root *datastore.Value) (bool, error) {
	removed := false
	for _, c := range v.VisibleChildren() {
		if c.Schema != nil && c.Schema.When != "" {
			res, err := p.Eval.Evaluate(xpath.Parse(c.Schema.When),
				&xpath.Context{Node: c, ConfigOnly: true}, root, true)
			if err != nil {
				return removed, err
			}
			if !xpath.AsBool(res) {
				if err := p.removeDeadNode(tx, v, c); err != nil {
					return removed, err
				}
				removed = true
				continue
			}
		}
		r, err := p.sweepOnce(ctx, tx, c, root)
		if err != nil {
			return removed, err
		}
		removed = removed || r
	}
	return removed, nil
}

func (p *Pipeline) removeDeadNode(tx *TxCb, parent, node *datastore.Value) error {
	if p.Acm != nil && !p.Acm.Allowed(tx.Session, node.Path(), acm.OpDelete) {
		return mgmterror.NewAccessDeniedError(node.Path())
	}
	if p.Locks != nil {
		if err := p.Locks.WriteOK(node, tx.Session.Id); err != nil {
			return err
		}
	}
	marker := node.MarkDeleted()
	marker.MarkSubtreeDirty()
	tx.Record(&UndoRec{
		EditOp: sil.OpDelete, Action: ActDelete,
		Parent: parent, CurNode: node, CurMarker: marker,
		FreeCur: true,
	})
	tx.DeadNodes = append(tx.DeadNodes, node)
	tx.audit(sil.OpDelete, node)
	return nil
}

// --- Phase C2: Commit --------------------------------------------------

// Commit runs the SIL commit callbacks in apply order, then performs
// the deferred structural changes. The first SIL rejection stops the
// loop, leaves the remaining records Skipped, and returns the error;
// the caller must then run Rollback.
func (p *Pipeline) Commit(ctx context.Context, tx *TxCb) error {
	if p.silActive(tx) {
		for i, rec := range tx.Undo {
			st := p.silCommitRec(ctx, tx, rec)
			if st.Err() != nil {
				rec.CommitRes = ResFailed
				for _, later := range tx.Undo[i+1:] {
					later.CommitRes = ResSkipped
				}
				tx.CommitRes = mgmterror.NewOperationFailedError(st.Err().Error())
				return tx.CommitRes
			}
			if st.IsSkipped() {
				rec.CommitRes = ResSkipped
			} else {
				rec.CommitRes = ResOK
			}
		}
	} else {
		for _, rec := range tx.Undo {
			rec.CommitRes = ResOK
		}
	}

	p.finalize(tx)
	return nil
}

// silCommitRec invokes the commit callback for one record. A delete on
// a schema node flagged sil_delete_children_first recursively invokes
// child delete callbacks before the node's own (spec.md §4.7).
func (p *Pipeline) silCommitRec(ctx context.Context, tx *TxCb, rec *UndoRec) sil.Status {
	sch := recSchema(rec)
	if sch == nil {
		return sil.OK()
	}
	if (rec.Action == ActDelete || rec.FreeCur) && sch.SilDeleteChildrenFirst &&
		rec.CurNode != nil {
		if st := p.silDeleteChildren(ctx, tx, rec.CurNode); st.Err() != nil {
			return st
		}
	}
	return p.Sil.Invoke(ctx, sch, sil.Call{
		Session: tx.Session.Id,
		Txid:    tx.Txid,
		Phase:   sil.PhaseCommit,
		Op:      rec.EditOp,
		NewNode: silNode(rec.NewNode),
		CurNode: silNode(rec.CurNode),
	})
}

func (p *Pipeline) silDeleteChildren(ctx context.Context, tx *TxCb, node *datastore.Value) sil.Status {
	for _, c := range node.Children {
		if st := p.silDeleteChildren(ctx, tx, c); st.Err() != nil {
			return st
		}
		if c.Schema == nil {
			continue
		}
		st := p.Sil.Invoke(ctx, c.Schema, sil.Call{
			Session: tx.Session.Id,
			Txid:    tx.Txid,
			Phase:   sil.PhaseCommit,
			Op:      sil.OpDelete,
			CurNode: c,
		})
		if st.Err() != nil {
			return st
		}
	}
	return sil.OK()
}

// finalize performs the deferred structural changes once every SIL
// commit has succeeded: deleted markers are unlinked and their nodes
// freed, extra-deleted entries finalised, dirty flags settled per
// datastore, and tracked node-sets follow replace swaps.
func (p *Pipeline) finalize(tx *TxCb) {
	for _, rec := range tx.Undo {
		switch rec.Action {
		case ActDelete:
			unlinkMarker(rec.CurMarker)
		case ActMove:
			unlinkMarker(rec.CurMarker)
		case ActReplace:
			if p.Locks != nil && rec.CurNode != nil && rec.NewNode != nil {
				p.Locks.SwapResnode(rec.CurNode, rec.NewNode)
			}
		}
		for _, ed := range rec.ExtraDeleted {
			unlinkMarker(ed.Marker)
		}
		if tx.Target == datastore.Running {
			if rec.NewNode != nil {
				rec.NewNode.ClearDirty()
			}
			if rec.CurNode != nil && rec.Action != ActDelete && rec.Action != ActReplace {
				rec.CurNode.ClearDirty()
			}
		}
	}
}

func unlinkMarker(marker *datastore.Value) {
	if marker == nil || marker.Parent() == nil {
		return
	}
	marker.Parent().DetachFromParent(marker)
}

// --- Phase R: Rollback -------------------------------------------------

// Rollback replays the undo log in reverse insertion order (spec.md
// §4.4/R). Records whose SIL commit already succeeded get a reversing
// apply+commit call pair with the inverse op; every other record (the
// one whose commit failed, and those commit never reached) gets a
// rollback callback. SIL rejections during reversal are
// logged, never retried: the server is in best-effort recovery.
func (p *Pipeline) Rollback(ctx context.Context, tx *TxCb) {
	for i := len(tx.Undo) - 1; i >= 0; i-- {
		rec := tx.Undo[i]
		if p.silActive(tx) {
			if rec.CommitRes == ResOK {
				p.silReverse(ctx, tx, rec)
			} else {
				p.silRollback(ctx, tx, rec)
			}
		}
		p.reverseTree(rec)
		rec.RollbackRes = ResOK
	}
	tx.RollbackRes = nil
}

func (p *Pipeline) silReverse(ctx context.Context, tx *TxCb, rec *UndoRec) {
	rc := rec.ReverseEdit()
	if rc.NoOp {
		return
	}
	sch := recSchema(rec)
	if sch == nil {
		return
	}
	for _, phase := range []sil.Phase{sil.PhaseApply, sil.PhaseCommit} {
		st := p.Sil.Invoke(ctx, sch, sil.Call{
			Session: tx.Session.Id,
			Txid:    tx.Txid,
			Phase:   phase,
			Op:      rc.Op,
			NewNode: silNode(rc.NewNode),
			CurNode: silNode(rc.CurNode),
		})
		if st.Err() != nil && p.Elog != nil {
			p.Elog.Printf("reverse %s %s failed: %s", rc.Op, phase, st.Err())
		}
	}
	// Extra-deleted entries are reversed as creates.
	for _, ed := range rec.ExtraDeleted {
		if ed.Node.Schema == nil {
			continue
		}
		for _, phase := range []sil.Phase{sil.PhaseApply, sil.PhaseCommit} {
			st := p.Sil.Invoke(ctx, ed.Node.Schema, sil.Call{
				Session: tx.Session.Id,
				Txid:    tx.Txid,
				Phase:   phase,
				Op:      sil.OpCreate,
				NewNode: ed.Node,
			})
			if st.Err() != nil && p.Elog != nil {
				p.Elog.Printf("reverse create %s failed: %s", ed.Node.Path(), st.Err())
			}
		}
	}
}

func (p *Pipeline) silRollback(ctx context.Context, tx *TxCb, rec *UndoRec) {
	sch := recSchema(rec)
	if sch == nil {
		return
	}
	st := p.Sil.Invoke(ctx, sch, sil.Call{
		Session: tx.Session.Id,
		Txid:    tx.Txid,
		Phase:   sil.PhaseRollback,
		Op:      rec.EditOp,
		NewNode: silNode(rec.NewNode),
		CurNode: silNode(rec.CurNode),
	})
	if st.Err() != nil && p.Elog != nil {
		p.Elog.Printf("rollback callback failed: %s", st.Err())
	}
}

// reverseTree undoes the tree mutation one record performed.
func (p *Pipeline) reverseTree(rec *UndoRec) {
	switch rec.Action {
	case ActAdd:
		if rec.Parent != nil && rec.NewNode != nil {
			rec.Parent.DetachFromParent(rec.NewNode)
		}
	case ActSet, ActDeleteDefault:
		if rec.CurNode != nil && rec.CurClone != nil {
			rec.CurNode.Scalar = rec.CurClone.Scalar
			rec.CurNode.Flags.Default = rec.CurClone.Flags.Default
			rec.CurNode.ClearDirty()
		}
	case ActMove:
		if rec.Parent != nil {
			rec.Parent.UnmoveChild(rec.CurNode, rec.CurMarker)
		}
	case ActReplace:
		datastore.Swap(rec.NewNode, rec.CurNode)
		rec.CurNode.Flags.Deleted = false
	case ActDelete:
		rec.CurNode.UnmarkDeleted(rec.CurMarker)
	}
	for _, ed := range rec.ExtraDeleted {
		ed.Node.UnmarkDeleted(ed.Marker)
	}
}

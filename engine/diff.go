// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package engine

import (
	"github.com/danos/confd/datastore"
	"github.com/danos/confd/schema"
	"github.com/danos/confd/sil"
)

// buildCommitEdit derives the edit tree a <commit> walks with: the
// difference between candidate and running, expressed as commit-op
// writes for changed or new content and delete-op entries for content
// running still has but candidate no longer does. With full unset,
// descent is pruned to subtree-dirty regions of the candidate;
// deletions are always detected inside them. The confirmed-commit
// revert path diffs with full set, since its "candidate" is a snapshot
// carrying no dirty flags.
func buildCommitEdit(cand, run *datastore.Value, full bool) *datastore.Value {
	edit := datastore.New(cand.Schema, cand.Name, cand.Namespace)
	diffInto(edit, cand, run, full)
	return edit
}

// diffInto populates edit with the child-level differences between
// cand and run, returning whether anything was added.
func diffInto(edit, cand, run *datastore.Value, full bool) bool {
	changed := false
	for _, c := range cand.VisibleChildren() {
		var r *datastore.Value
		if run != nil {
			r = run.FirstChildMatch(c)
		}
		switch {
		case r == nil:
			// New in candidate: carry the whole subtree.
			n := datastore.Clone(c, true)
			n.EditOp = sil.OpNone
			n.Flags.Dirty = true
			n.Flags.SubtreeDirty = false
			edit.InsertOrdered(n)
			changed = true
		case c.IsLeaf():
			if c.ScalarValue() != r.ScalarValue() {
				n := datastore.Clone(c, false)
				n.EditOp = sil.OpNone
				n.Flags.Dirty = true
				edit.InsertOrdered(n)
				changed = true
			}
		case full || c.Flags.SubtreeDirty || c.Flags.Dirty:
			n := datastore.New(c.Schema, c.Name, c.Namespace)
			copyKeys(n, c)
			if diffInto(n, c, r, full) {
				edit.InsertOrdered(n)
				changed = true
			}
		}
	}
	if run != nil && (full || cand.Flags.SubtreeDirty || cand.Flags.Dirty ||
		cand.Schema != nil && cand.Schema.Kind == schema.RootKind) {
		for _, r := range run.VisibleChildren() {
			if cand.FirstChildMatch(r) != nil {
				continue
			}
			n := datastore.New(r.Schema, r.Name, r.Namespace)
			n.EditOp = sil.OpDelete
			copyKeys(n, r)
			edit.InsertOrdered(n)
			changed = true
		}
	}
	return changed
}

// copyKeys carries a list entry's key leaves into an edit node so the
// apply walk can align it with the current tree.
func copyKeys(edit, from *datastore.Value) {
	if from.Schema == nil || from.Schema.Kind != schema.List {
		return
	}
	for _, k := range from.Schema.Keys {
		if edit.FindChild("", k) != nil {
			continue
		}
		if kc := from.FindChild("", k); kc != nil {
			edit.InsertOrdered(datastore.Clone(kc, false))
		}
	}
}

// replaceEdit wraps a cloned source root as a top-level replace edit
// for <copy-config>: every source child replaces its counterpart, and
// anything only the destination has is deleted.
func replaceEdit(srcRoot, dstRoot *datastore.Value) *datastore.Value {
	edit := datastore.New(srcRoot.Schema, srcRoot.Name, srcRoot.Namespace)
	for _, c := range srcRoot.VisibleChildren() {
		n := datastore.Clone(c, true)
		n.EditOp = sil.OpReplace
		edit.InsertOrdered(n)
	}
	for _, d := range dstRoot.VisibleChildren() {
		if srcRoot.FirstChildMatch(d) != nil {
			continue
		}
		n := datastore.New(d.Schema, d.Name, d.Namespace)
		n.EditOp = sil.OpDelete
		copyKeys(n, d)
		edit.InsertOrdered(n)
	}
	return edit
}

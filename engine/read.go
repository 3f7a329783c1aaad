// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package engine

import (
	"bytes"
	"fmt"

	"github.com/danos/confd/acm"
	"github.com/danos/confd/datastore"
	"github.com/danos/confd/mgmterror"
	"github.com/danos/confd/schema"
)

// findPath resolves a path of name (and, for lists, key-value) steps
// below root. List entries are addressed as name then key value.
func findPath(root *datastore.Value, path []string) *datastore.Value {
	cur := root
	for i := 0; i < len(path); i++ {
		next := cur.FindChild("", path[i])
		if next == nil {
			return nil
		}
		if next.Schema != nil && next.Schema.IsList() && i+1 < len(path) {
			// Step again by key value / leaf-list value.
			entry := listEntry(cur, next.Schema, path[i+1])
			if entry == nil {
				return nil
			}
			cur = entry
			i++
			continue
		}
		cur = next
	}
	return cur
}

func listEntry(parent *datastore.Value, sch *schema.SchemaObject, keyval string) *datastore.Value {
	for _, c := range parent.VisibleChildren() {
		if c.Schema != sch {
			continue
		}
		if sch.Kind == schema.LeafList {
			if c.ScalarValue() == keyval {
				return c
			}
			continue
		}
		if len(sch.Keys) > 0 {
			if kc := c.FindChild("", sch.Keys[0]); kc != nil && kc.ScalarValue() == keyval {
				return c
			}
		}
	}
	return nil
}

// Exists reports whether path names a node in the datastore.
func (e *Engine) Exists(sess acm.Session, id datastore.Id, path []string) bool {
	ds := e.Datastore(id)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if !ds.readable() {
		return false
	}
	v := findPath(ds.Root, path)
	if v == nil {
		return false
	}
	return e.Acm == nil || e.Acm.Allowed(sess, v.Path(), acm.OpRead)
}

// Get returns the child names (or the value, for a leaf) at path.
func (e *Engine) Get(sess acm.Session, id datastore.Id, path []string) ([]string, error) {
	ds := e.Datastore(id)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if !ds.readable() {
		return nil, mgmterror.NewOperationFailedError(
			"datastore " + id.String() + " is " + ds.state.String())
	}
	v := findPath(ds.Root, path)
	if v == nil {
		return nil, mgmterror.NewDataMissingError("/" + joinPath(path))
	}
	if e.Acm != nil && !e.Acm.Allowed(sess, v.Path(), acm.OpRead) {
		return nil, mgmterror.NewAccessDeniedError(v.Path())
	}
	if v.IsLeaf() {
		return []string{v.ScalarValue()}, nil
	}
	var out []string
	for _, c := range v.VisibleChildren() {
		if c.IsLeaf() && c.Schema != nil && c.Schema.Kind == schema.LeafList {
			out = append(out, c.ScalarValue())
			continue
		}
		out = append(out, c.Name)
	}
	return out, nil
}

// IsDefault reports whether the leaf at path is set by its schema
// default rather than explicit configuration.
func (e *Engine) IsDefault(sess acm.Session, id datastore.Id, path []string) (bool, error) {
	ds := e.Datastore(id)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	v := findPath(ds.Root, path)
	if v == nil {
		return false, mgmterror.NewDataMissingError("/" + joinPath(path))
	}
	return v.IsDefault(), nil
}

// Changed reports whether candidate differs from running.
func (e *Engine) Changed() bool {
	cand := e.candidate
	cand.mu.Lock()
	defer cand.mu.Unlock()
	return anyDirty(cand.Root)
}

func anyDirty(v *datastore.Value) bool {
	if v.Flags.Dirty || v.Flags.SubtreeDirty {
		return true
	}
	for _, c := range v.Children {
		if anyDirty(c) {
			return true
		}
	}
	return false
}

// Discard resets candidate to a copy of running.
func (e *Engine) Discard(sess acm.Session) error {
	cand, run := e.candidate, e.running
	cand.mu.Lock()
	defer cand.mu.Unlock()
	run.mu.Lock()
	defer run.mu.Unlock()
	if err := cand.writeOK(sess.Id); err != nil {
		return err
	}
	cand.Root = datastore.Clone(run.Root, true)
	clearAllDirty(cand.Root)
	cand.LastTxid = e.nextTxid()
	return nil
}

// Show renders the subtree at path in an indented text form, defaulted
// leaves excluded unless withDefaults.
func (e *Engine) Show(sess acm.Session, id datastore.Id, path []string, withDefaults bool) (string, error) {
	ds := e.Datastore(id)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if !ds.readable() {
		return "", mgmterror.NewOperationFailedError(
			"datastore " + id.String() + " is " + ds.state.String())
	}
	v := findPath(ds.Root, path)
	if v == nil {
		return "", mgmterror.NewDataMissingError("/" + joinPath(path))
	}
	var b bytes.Buffer
	showNode(&b, v, 0, withDefaults)
	return b.String(), nil
}

func showNode(b *bytes.Buffer, v *datastore.Value, depth int, withDefaults bool) {
	if v.Flags.Default && !withDefaults {
		return
	}
	indent := bytes.Repeat([]byte{' '}, depth*4)
	if v.Schema == nil || v.Schema.Kind != schema.RootKind {
		if v.IsLeaf() {
			fmt.Fprintf(b, "%s%s %s\n", indent, v.Name, v.ScalarValue())
			return
		}
		fmt.Fprintf(b, "%s%s {\n", indent, v.Name)
		depth++
	}
	for _, c := range v.VisibleChildren() {
		showNode(b, c, depth, withDefaults)
	}
	if v.Schema == nil || v.Schema.Kind != schema.RootKind {
		fmt.Fprintf(b, "%s}\n", indent)
	}
}

func joinPath(path []string) string {
	var b bytes.Buffer
	for i, p := range path {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(p)
	}
	return b.String()
}

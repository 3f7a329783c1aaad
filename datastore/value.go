// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package datastore implements ValueTree (spec.md §4.1): the in-memory
// labeled tree of configuration values, its dirty-flag bookkeeping, and
// the add-child/swap/clone/compare primitives the edit pipeline drives.
package datastore

import (
	"sort"
	"strings"

	"github.com/danos/confd/schema"
	"github.com/danos/confd/sil"
	"github.com/danos/confd/xpath"
)

// ContentKind is the node's content variant (spec.md §3: "content: one of
// { Leaf(scalar), Container(children), List(entries), LeafList(items) }").
type ContentKind int

const (
	LeafContent ContentKind = iota
	ContainerContent
	ListContent
	LeafListContent
)

// InsertOp is the effective insert-attribute for an ordered-by-user
// list/leaf-list entry (spec.md §3 editvars.insertop).
type InsertOp int

const (
	InsertNone InsertOp = iota
	InsertFirst
	InsertLast
	InsertBefore
	InsertAfter
)

// EditVars are transient, valid only during a transaction (spec.md §3).
type EditVars struct {
	InsertOp  InsertOp
	InsertKey string // resolved key/value tuple of InsertRef
	InsertRef string // raw insert reference before resolution
}

// Flags mirror spec.md §3's { dirty, subtree_dirty, deleted, default, res }
// set, minus res (kept as its own typed field on Value since it carries an
// error, not a boolean).
type Flags struct {
	Dirty        bool
	SubtreeDirty bool
	Deleted      bool
	Default      bool
}

// Value is one node of the datastore tree (spec.md §3).
type Value struct {
	Schema    *schema.SchemaObject
	Name      string
	Namespace string

	parent   *Value // weak/non-owning back-edge; never used to free anything
	Children []*Value
	kind     ContentKind
	Scalar   string

	EditOp   sil.Op
	EditVars EditVars
	Flags    Flags
	Res      error

	XPathPCB interface{} // *xpath.Pcb, stored as interface{} to avoid an import cycle; see WithPcb

	// marker is true for a deleted/moved-node placeholder swapped into a
	// live position so rollback can restore it (spec.md §9).
	marker bool

	// Virtual leaves are backed by a SIL getter/setter rather than stored
	// content (spec.md §4.1).
	VirtualGet func() (string, bool)
	VirtualSet func(string) error
}

// New constructs a detached Value. kind is inferred from sch.Kind when
// sch is non-nil; callers building synthetic nodes (markers, fixtures)
// may pass kind explicitly by calling NewWithKind.
func New(sch *schema.SchemaObject, name, namespace string) *Value {
	k := ContainerContent
	if sch != nil {
		switch sch.Kind {
		case schema.Leaf:
			k = LeafContent
		case schema.LeafList:
			k = LeafListContent
		case schema.List:
			k = ListContent
		}
	}
	return &Value{Schema: sch, Name: name, Namespace: namespace, kind: k}
}

func NewWithKind(sch *schema.SchemaObject, name, namespace string, k ContentKind) *Value {
	v := New(sch, name, namespace)
	v.kind = k
	return v
}

func (v *Value) Kind() ContentKind { return v.kind }

func (v *Value) Parent() *Value { return v.parent }

func (v *Value) IsLeaf() bool { return v.kind == LeafContent }

func (v *Value) IsMarker() bool { return v.marker }

// --- xpath.Node / sil.Node satisfaction --------------------------------

func (v *Value) NodeName() string      { return v.Name }
func (v *Value) NodeNamespace() string { return v.Namespace }
func (v *Value) NodeIsLeaf() bool      { return v.IsLeaf() }
func (v *Value) NodeValue() string     { return v.ScalarValue() }

func (v *Value) NodeParent() xpath.Node {
	if v.parent == nil {
		return nil
	}
	return v.parent
}

func (v *Value) NodeChildren() []xpath.Node {
	visible := v.VisibleChildren()
	out := make([]xpath.Node, 0, len(visible))
	for _, c := range visible {
		out = append(out, c)
	}
	return out
}

// ScalarValue returns the leaf's string content, resolving virtual
// leaves through their SIL getter.
func (v *Value) ScalarValue() string {
	if v.VirtualGet != nil {
		if s, ok := v.VirtualGet(); ok {
			return s
		}
	}
	return v.Scalar
}

func (v *Value) NodePath() string { return v.Path() }

// Path renders the absolute path from root, "/"-joined.
func (v *Value) Path() string {
	if v.parent == nil || v.parent.Schema == nil || v.parent.Schema.Kind == schema.RootKind {
		return "/" + v.Name
	}
	return v.parent.Path() + "/" + v.Name
}

func (v *Value) IsVirtual() bool {
	return v.VirtualGet != nil || v.VirtualSet != nil
}

func (v *Value) IsDefault() bool { return v.Flags.Default }

// VisibleChildren returns Children with deleted markers/entries excluded
// (spec.md §3 invariant 4: "deleted nodes ... are invisible to readers").
func (v *Value) VisibleChildren() []*Value {
	out := make([]*Value, 0, len(v.Children))
	for _, c := range v.Children {
		if c.Flags.Deleted || c.marker {
			continue
		}
		out = append(out, c)
	}
	return out
}

// FindChild finds the first visible child matching (module, name).
func (v *Value) FindChild(module, name string) *Value {
	for _, c := range v.VisibleChildren() {
		if c.Name != name {
			continue
		}
		if module == "" || c.Schema == nil || c.Schema.Module == "" || c.Schema.Module == module {
			return c
		}
	}
	return nil
}

// FirstChildMatch finds the first visible child aligned with template:
// same schema, and for list entries, the same key tuple.
func (v *Value) FirstChildMatch(template *Value) *Value {
	for _, c := range v.VisibleChildren() {
		if c.Schema != template.Schema {
			continue
		}
		if template.Schema != nil && template.Schema.Kind == schema.List {
			if keyTuple(c) == keyTuple(template) {
				return c
			}
			continue
		}
		if template.Schema != nil && template.Schema.Kind == schema.LeafList {
			if c.Scalar == template.Scalar {
				return c
			}
			continue
		}
		return c
	}
	return nil
}

// keyTuple renders a list entry's key leaves as a stable joined string,
// used both for uniqueness (invariant 1) and for insertref resolution.
func keyTuple(entry *Value) string {
	if entry.Schema == nil {
		return ""
	}
	parts := make([]string, 0, len(entry.Schema.Keys))
	for _, k := range entry.Schema.Keys {
		if kc := entry.FindChild("", k); kc != nil {
			parts = append(parts, kc.ScalarValue())
		} else {
			parts = append(parts, "")
		}
	}
	return strings.Join(parts, "\x00")
}

// KeyTuple is the exported form of keyTuple, used by the commit checker's
// unique-stmt and list-key invariants.
func KeyTuple(entry *Value) string { return keyTuple(entry) }

// naturalLess provides the ordered-by-system canonical ordering: a small
// digit-aware string comparison (e.g. "eth2" < "eth10"), in place of an
// external natural-sort dependency.
func naturalLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ac, bc := a[i], b[j]
		if isDigit(ac) && isDigit(bc) {
			ni, na := scanNumber(a, i)
			nj, nb := scanNumber(b, j)
			if na != nb {
				return na < nb
			}
			i, j = ni, nj
			continue
		}
		if ac != bc {
			return ac < bc
		}
		i++
		j++
	}
	return len(a)-i < len(b)-j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func scanNumber(s string, i int) (next int, n int) {
	start := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	num := 0
	for k := start; k < i; k++ {
		num = num*10 + int(s[k]-'0')
	}
	return i, num
}

// InsertOrdered inserts child into parent's Children at the position
// dictated by editvars.InsertOp (spec.md §4.1's add_child placement
// rule): "first" before the first peer of the same schema; "last"/"none"
// at the canonical position (end of same-schema run for ordered-by-user,
// natural-sort position for ordered-by-system); "before"/"after" relative
// to insertref, which must resolve to an existing peer.
func (v *Value) InsertOrdered(child *Value) error {
	child.parent = v
	peers := sameSchemaIndices(v.Children, child.Schema)

	orderedByUser := child.Schema != nil && child.Schema.OrderedByUser
	if !orderedByUser {
		// ordered-by-system: sorted canonically by key tuple / scalar.
		insertAt := len(v.Children)
		sortKey := func(x *Value) string {
			if x.Schema != nil && x.Schema.Kind == schema.List {
				return keyTuple(x)
			}
			return x.ScalarValue()
		}
		for _, idx := range peers {
			if naturalLess(sortKey(child), sortKey(v.Children[idx])) {
				insertAt = idx
				break
			}
		}
		v.insertAt(insertAt, child)
		return nil
	}

	switch child.EditVars.InsertOp {
	case InsertFirst:
		if len(peers) == 0 {
			v.insertAt(len(v.Children), child)
			return nil
		}
		v.insertAt(peers[0], child)
	case InsertBefore, InsertAfter:
		refIdx := findInsertRef(v.Children, child.EditVars.InsertKey, child.Schema)
		if refIdx < 0 {
			return errInsertMissingInstance(child.EditVars.InsertRef)
		}
		at := refIdx
		if child.EditVars.InsertOp == InsertAfter {
			at = refIdx + 1
		}
		v.insertAt(at, child)
	default: // InsertLast, InsertNone
		at := len(v.Children)
		if len(peers) > 0 {
			at = peers[len(peers)-1] + 1
		}
		v.insertAt(at, child)
	}
	return nil
}

type insertMissingErr struct{ ref string }

func (e *insertMissingErr) Error() string { return "insert reference not found: " + e.ref }

func errInsertMissingInstance(ref string) error { return &insertMissingErr{ref: ref} }

// IsInsertMissingInstance reports whether err was raised by InsertOrdered
// failing to resolve an insertref, letting callers map it to the
// InsertMissingInstance rpc-error.
func IsInsertMissingInstance(err error) bool {
	_, ok := err.(*insertMissingErr)
	return ok
}

func sameSchemaIndices(children []*Value, sch *schema.SchemaObject) []int {
	var out []int
	for i, c := range children {
		if c.Schema == sch {
			out = append(out, i)
		}
	}
	return out
}

func findInsertRef(children []*Value, key string, sch *schema.SchemaObject) int {
	for i, c := range children {
		if c.Schema != sch {
			continue
		}
		if sch != nil && sch.Kind == schema.List {
			if keyTuple(c) == key {
				return i
			}
		} else if c.Scalar == key {
			return i
		}
	}
	return -1
}

func (v *Value) insertAt(idx int, child *Value) {
	if idx < 0 || idx > len(v.Children) {
		idx = len(v.Children)
	}
	v.Children = append(v.Children, nil)
	copy(v.Children[idx+1:], v.Children[idx:])
	v.Children[idx] = child
}

// AddChild implements the add_child algorithm of spec.md §4.1: choice/
// case exclusivity (marking every sibling of any other case deleted),
// then placement per InsertOrdered. onExtraDeleted is invoked once per
// sibling marked deleted this way, with the marker that replaced it, so
// the caller's UndoRec can record it in extra_deleted without datastore
// depending on package txn.
func (v *Value) AddChild(child *Value, onExtraDeleted func(node, marker *Value)) error {
	if caseOf(child.Schema) != nil {
		choice := caseOf(child.Schema).Parent
		newCase := caseOf(child.Schema)
		for _, sib := range v.VisibleChildren() {
			sibCase := caseOf(sib.Schema)
			if sibCase == nil || sibCase.Parent != choice || sibCase == newCase {
				continue
			}
			m := sib.MarkDeleted()
			if onExtraDeleted != nil {
				onExtraDeleted(sib, m)
			}
		}
	}
	return v.InsertOrdered(child)
}

// caseOf returns the nearest ancestor schema of Kind Case, or nil.
func caseOf(s *schema.SchemaObject) *schema.SchemaObject {
	for n := s; n != nil; n = n.Parent {
		if n.Kind == schema.Case {
			return n
		}
	}
	return nil
}

// MoveChild re-positions child among v's Children per vars, leaving a
// marker at the old position so rollback can restore it: the marker is
// swapped in where child was, then child is re-inserted per the insert
// attributes. Returns the marker.
func (v *Value) MoveChild(child *Value, vars EditVars) (*Value, error) {
	marker := newMarker(child)
	Swap(child, marker)
	saved := child.EditVars
	child.EditVars = vars
	err := v.InsertOrdered(child)
	child.EditVars = saved
	if err != nil {
		// Put child back where it was.
		Swap(marker, child)
		return nil, err
	}
	return marker, nil
}

// UnmoveChild reverses MoveChild: child is detached from its current
// position and swapped back in place of marker.
func (v *Value) UnmoveChild(child, marker *Value) {
	v.DetachFromParent(child)
	Swap(marker, child)
}

// Swap replaces old with replacement in old's parent's Children slice at
// the same index, preserving position (spec.md §4.1's swap primitive,
// used both for deleted-marker placement and for `replace` application).
func Swap(old, replacement *Value) {
	p := old.parent
	replacement.parent = p
	if p == nil {
		return
	}
	for i, c := range p.Children {
		if c == old {
			p.Children[i] = replacement
			return
		}
	}
}

// newMarker builds a placeholder with the same schema/name/namespace as
// orig, standing in for it at its tree position (spec.md §9).
func newMarker(orig *Value) *Value {
	m := New(orig.Schema, orig.Name, orig.Namespace)
	m.marker = true
	return m
}

// MarkDeleted swaps v for a deleted-marker placeholder at its current
// tree position (preserving v's own Children so they remain addressable
// for rollback/SIL commit) and returns the marker that replaced it.
// Spec.md §4.1/§9: "deleted nodes remain linked until commit"; the actual
// unlink happens in commit.
func (v *Value) MarkDeleted() *Value {
	v.Flags.Deleted = true
	marker := newMarker(v)
	Swap(v, marker)
	marker.parent = v.parent
	// v keeps its parent pointer (so its Path stays valid for SIL and
	// audit) but is no longer among the parent's Children; it is
	// re-attached to the marker's slot on rollback via UnmarkDeleted,
	// which swaps the marker back out.
	return marker
}

// UnmarkDeleted reverses MarkDeleted: swaps v back into marker's
// position and clears the Deleted flag.
func (v *Value) UnmarkDeleted(marker *Value) {
	Swap(marker, v)
	v.Flags.Deleted = false
}

// DetachFromParent removes child from parent's Children slice outright
// (used by commit's deferred structural cleanup to unlink and free
// deleted markers, and by rollback's "remove new_node").
func (v *Value) DetachFromParent(child *Value) {
	for i, c := range v.Children {
		if c == child {
			v.Children = append(v.Children[:i], v.Children[i+1:]...)
			return
		}
	}
}

// Clone deep-copies v (and, if deep, its subtree), detached from any
// parent. Used for UndoRec.cur_clone (spec.md §3).
func Clone(v *Value, deep bool) *Value {
	if v == nil {
		return nil
	}
	c := &Value{
		Schema:    v.Schema,
		Name:      v.Name,
		Namespace: v.Namespace,
		kind:      v.kind,
		Scalar:    v.Scalar,
		EditOp:    v.EditOp,
		EditVars:  v.EditVars,
		Flags:     v.Flags,
		Res:       v.Res,
		XPathPCB:  v.XPathPCB,
	}
	if deep {
		for _, ch := range v.Children {
			cc := Clone(ch, true)
			cc.parent = c
			c.Children = append(c.Children, cc)
		}
	}
	return c
}

// Compare orders/tests equality of two Values. deep also compares
// subtrees (used by the round-trip property test); shallow compares
// only this node's own content.
func Compare(a, b *Value, deep bool) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	if a.Name != b.Name {
		return strings.Compare(a.Name, b.Name)
	}
	if a.kind == LeafContent {
		return strings.Compare(a.ScalarValue(), b.ScalarValue())
	}
	if !deep {
		return 0
	}
	av, bv := a.VisibleChildren(), b.VisibleChildren()
	if len(av) != len(bv) {
		return len(av) - len(bv)
	}
	for i := range av {
		if c := Compare(av[i], bv[i], true); c != 0 {
			return c
		}
	}
	return 0
}

// SetDirty marks v dirty and propagates subtree_dirty to every ancestor
// (spec.md §3 invariant 3).
func (v *Value) SetDirty() {
	v.Flags.Dirty = true
	for p := v.parent; p != nil; p = p.parent {
		p.Flags.SubtreeDirty = true
	}
}

// MarkSubtreeDirty sets subtree_dirty on v and every ancestor without
// marking any node itself dirty; used when a deletion leaves no dirty
// node behind but the region still needs revisiting.
func (v *Value) MarkSubtreeDirty() {
	for p := v; p != nil; p = p.parent {
		p.Flags.SubtreeDirty = true
	}
}

// ClearDirty clears v's own dirty flag and recomputes subtree_dirty for
// every ancestor from scratch (some other dirty descendant may still
// justify it staying set).
func (v *Value) ClearDirty() {
	v.Flags.Dirty = false
	for p := v.parent; p != nil; p = p.parent {
		p.Flags.SubtreeDirty = p.anyDescendantDirty()
	}
}

func (v *Value) anyDescendantDirty() bool {
	for _, c := range v.Children {
		if c.Flags.Dirty || c.anyDescendantDirty() {
			return true
		}
	}
	return false
}

// SortChildren re-sorts ordered-by-system children canonically; used
// after a bulk load where InsertOrdered wasn't called per-node.
func (v *Value) SortChildren() {
	sort.SliceStable(v.Children, func(i, j int) bool {
		a, b := v.Children[i], v.Children[j]
		if a.Schema != b.Schema {
			return false
		}
		if a.Schema != nil && a.Schema.OrderedByUser {
			return false
		}
		key := func(x *Value) string {
			if x.Schema != nil && x.Schema.Kind == schema.List {
				return keyTuple(x)
			}
			return x.ScalarValue()
		}
		return naturalLess(key(a), key(b))
	})
}

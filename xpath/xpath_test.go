// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package xpath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// node is a minimal in-memory Node for evaluator tests.
type node struct {
	name     string
	value    string
	parent   *node
	children []*node
}

func (n *node) NodeName() string      { return n.name }
func (n *node) NodeNamespace() string { return "" }
func (n *node) NodeValue() string     { return n.value }
func (n *node) NodeIsLeaf() bool      { return len(n.children) == 0 }

func (n *node) NodeParent() Node {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *node) NodeChildren() []Node {
	out := make([]Node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	return out
}

func (n *node) add(child *node) *node {
	child.parent = n
	n.children = append(n.children, child)
	return child
}

// tree:
//
//	/a/x = 1
//	/a/enabled = true
//	/b[name=n1]/port = 80
//	/b[name=n2]/port = 443
func testTree() *node {
	root := &node{name: ""}
	a := root.add(&node{name: "a"})
	a.add(&node{name: "x", value: "1"})
	a.add(&node{name: "enabled", value: "true"})
	b1 := root.add(&node{name: "b"})
	b1.add(&node{name: "name", value: "n1"})
	b1.add(&node{name: "port", value: "80"})
	b2 := root.add(&node{name: "b"})
	b2.add(&node{name: "name", value: "n2"})
	b2.add(&node{name: "port", value: "443"})
	return root
}

func eval(t *testing.T, expr string, ctxNode Node, root Node) Result {
	t.Helper()
	res, err := BasicEvaluator{}.Evaluate(Parse(expr), &Context{Node: ctxNode}, root, true)
	require.NoError(t, err)
	return res
}

func TestAbsolutePath(t *testing.T) {
	root := testTree()
	res := eval(t, "/a/x", root, root)
	ns, ok := res.(*NodeSet)
	require.True(t, ok)
	require.Equal(t, 1, ns.Len())
	require.Equal(t, "1", ns.Value())
}

func TestRelativePathWithParent(t *testing.T) {
	root := testTree()
	x := root.children[0].children[0] // /a/x
	res := eval(t, "../enabled='true'", x, root)
	require.True(t, AsBool(res))

	res = eval(t, "../enabled='false'", x, root)
	require.False(t, AsBool(res))
}

func TestPredicate(t *testing.T) {
	root := testTree()
	res := eval(t, "/b[name='n2']/port", root, root)
	ns := res.(*NodeSet)
	require.Equal(t, 1, ns.Len())
	require.Equal(t, "443", ns.Value())
}

func TestBooleanCombinators(t *testing.T) {
	root := testTree()
	require.True(t, AsBool(eval(t, "/a/x='1' and /a/enabled='true'", root, root)))
	require.False(t, AsBool(eval(t, "/a/x='2' and /a/enabled='true'", root, root)))
	require.True(t, AsBool(eval(t, "/a/x='2' or /a/enabled='true'", root, root)))
	require.True(t, AsBool(eval(t, "not(/a/x='2')", root, root)))
}

func TestMissingPathIsEmptyNodeset(t *testing.T) {
	root := testTree()
	res := eval(t, "/no/such/path", root, root)
	ns := res.(*NodeSet)
	require.Equal(t, 0, ns.Len())
	require.False(t, AsBool(res))
}

func TestNodeSetIteration(t *testing.T) {
	root := testTree()
	res := eval(t, "/b/port", root, root)
	ns := res.(*NodeSet)
	require.Equal(t, 2, ns.Len())

	var vals []string
	for n := ns.First(); n != nil; n = ns.Next() {
		vals = append(vals, n.NodeValue())
	}
	require.Equal(t, []string{"80", "443"}, vals)
}

func TestNodeSetPruneAndUnion(t *testing.T) {
	root := testTree()
	all := eval(t, "/b/port", root, root).(*NodeSet)
	first := all.All()[0]

	all.Prune(func(n Node) bool { return n == first })
	require.Equal(t, 1, all.Len())

	other := eval(t, "/a/x", root, root).(*NodeSet)
	merged := all.Union(other)
	require.Equal(t, 2, merged.Len())

	// Union deduplicates.
	again := merged.Union(other)
	require.Equal(t, 2, again.Len())
}

func TestNodeSetReplace(t *testing.T) {
	root := testTree()
	ns := eval(t, "/a/x", root, root).(*NodeSet)
	repl := &node{name: "x", value: "2"}
	ns.Replace(ns.All()[0], repl)
	require.Equal(t, "2", ns.Value())
}

func TestCurrentFunction(t *testing.T) {
	root := testTree()
	x := root.children[0].children[0] // /a/x = 1
	res := eval(t, "current()", x, root)
	ns := res.(*NodeSet)
	require.Equal(t, "1", ns.Value())
}

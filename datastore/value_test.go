// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package datastore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/danos/confd/datastore"
	"github.com/danos/confd/schema"
)

func testSchema(t *testing.T) *schema.SchemaObject {
	t.Helper()
	root := schema.NewRoot()

	system := root.AddChild(schema.NewObject("test", "system", schema.Container))
	system.AddChild(schema.NewObject("test", "hostname", schema.Leaf))

	users := schema.NewObject("test", "users", schema.List)
	users.Keys = []string{"id"}
	users.OrderedByUser = true
	root.AddChild(users)
	users.AddChild(schema.NewObject("test", "id", schema.Leaf))
	users.AddChild(schema.NewObject("test", "name", schema.Leaf))

	servers := schema.NewObject("test", "servers", schema.LeafList)
	servers.OrderedByUser = true
	root.AddChild(servers)

	ports := schema.NewObject("test", "ports", schema.LeafList)
	root.AddChild(ports)

	transport := root.AddChild(schema.NewObject("test", "transport", schema.Container))
	proto := transport.AddChild(schema.NewObject("test", "proto", schema.Choice))
	tcpCase := proto.AddChild(schema.NewObject("test", "tcp-case", schema.Case))
	tcpCase.AddChild(schema.NewObject("test", "tcp", schema.Leaf))
	udpCase := proto.AddChild(schema.NewObject("test", "udp-case", schema.Case))
	udpCase.AddChild(schema.NewObject("test", "udp", schema.Leaf))

	return root
}

func leaf(sch *schema.SchemaObject, name, val string) *Value {
	v := New(sch, name, "test")
	v.Scalar = val
	return v
}

func listEntry(t *testing.T, users *schema.SchemaObject, id, name string) *Value {
	t.Helper()
	e := New(users, "users", "test")
	idSch := users.FindChild("test", "id")
	nameSch := users.FindChild("test", "name")
	require.NoError(t, e.InsertOrdered(leaf(idSch, "id", id)))
	if name != "" {
		require.NoError(t, e.InsertOrdered(leaf(nameSch, "name", name)))
	}
	return e
}

func TestFindChild(t *testing.T) {
	sr := testSchema(t)
	root := New(sr, "", "")
	system := New(sr.FindChild("test", "system"), "system", "test")
	require.NoError(t, root.InsertOrdered(system))

	require.Equal(t, system, root.FindChild("test", "system"))
	require.Nil(t, root.FindChild("test", "no-such"))
	require.Nil(t, root.FindChild("other-module", "system"))
}

func TestOrderedBySystemInsertion(t *testing.T) {
	sr := testSchema(t)
	ports := sr.FindChild("test", "ports")
	root := New(sr, "", "")

	for _, v := range []string{"eth10", "eth2", "eth1"} {
		require.NoError(t, root.InsertOrdered(leaf(ports, "ports", v)))
	}

	var got []string
	for _, c := range root.VisibleChildren() {
		got = append(got, c.ScalarValue())
	}
	// Canonical natural order, not lexical.
	require.Equal(t, []string{"eth1", "eth2", "eth10"}, got)
}

func TestOrderedByUserInsertOps(t *testing.T) {
	sr := testSchema(t)
	servers := sr.FindChild("test", "servers")
	root := New(sr, "", "")

	add := func(val string, op InsertOp, key string) error {
		v := leaf(servers, "servers", val)
		v.EditVars = EditVars{InsertOp: op, InsertKey: key, InsertRef: key}
		return root.InsertOrdered(v)
	}

	// Both first and last into an empty leaf-list succeed and yield a
	// single entry.
	require.NoError(t, add("a", InsertFirst, ""))
	require.Equal(t, 1, len(root.VisibleChildren()))

	require.NoError(t, add("z", InsertLast, ""))
	require.NoError(t, add("m", InsertAfter, "a"))
	require.NoError(t, add("b", InsertBefore, "z"))

	var got []string
	for _, c := range root.VisibleChildren() {
		got = append(got, c.ScalarValue())
	}
	require.Equal(t, []string{"a", "m", "b", "z"}, got)

	err := add("x", InsertAfter, "no-such")
	require.Error(t, err)
	require.True(t, IsInsertMissingInstance(err))
}

func TestChoiceCaseExclusivity(t *testing.T) {
	sr := testSchema(t)
	transportSch := sr.FindChild("test", "transport")
	tcpSch := transportSch.FindChild("test", "proto").
		FindChild("test", "tcp-case").FindChild("test", "tcp")
	udpSch := transportSch.FindChild("test", "proto").
		FindChild("test", "udp-case").FindChild("test", "udp")

	root := New(sr, "", "")
	transport := New(transportSch, "transport", "test")
	require.NoError(t, root.InsertOrdered(transport))
	require.NoError(t, transport.AddChild(leaf(tcpSch, "tcp", "80"), nil))

	var extra []*Value
	err := transport.AddChild(leaf(udpSch, "udp", "53"),
		func(node, marker *Value) { extra = append(extra, node) })
	require.NoError(t, err)

	// The tcp leaf was displaced by the udp case and reported.
	require.Equal(t, 1, len(extra))
	require.Equal(t, "tcp", extra[0].Name)
	require.Nil(t, transport.FindChild("test", "tcp"))
	require.NotNil(t, transport.FindChild("test", "udp"))
}

func TestMarkDeletedVisibility(t *testing.T) {
	sr := testSchema(t)
	users := sr.FindChild("test", "users")
	root := New(sr, "", "")
	e := listEntry(t, users, "1", "alice")
	require.NoError(t, root.InsertOrdered(e))

	marker := e.MarkDeleted()
	// Invisible to readers, children still addressable via the node.
	require.Nil(t, root.FindChild("test", "users"))
	require.NotNil(t, e.FindChild("test", "id"))

	e.UnmarkDeleted(marker)
	require.NotNil(t, root.FindChild("test", "users"))
	require.Equal(t, "alice", root.FindChild("test", "users").
		FindChild("test", "name").ScalarValue())
}

func TestMoveChild(t *testing.T) {
	sr := testSchema(t)
	users := sr.FindChild("test", "users")
	root := New(sr, "", "")
	a := listEntry(t, users, "1", "a")
	b := listEntry(t, users, "2", "b")
	require.NoError(t, root.InsertOrdered(a))
	require.NoError(t, root.InsertOrdered(b))

	marker, err := root.MoveChild(b, EditVars{InsertOp: InsertFirst})
	require.NoError(t, err)

	names := func() []string {
		var out []string
		for _, c := range root.VisibleChildren() {
			out = append(out, c.FindChild("test", "id").ScalarValue())
		}
		return out
	}
	require.Equal(t, []string{"2", "1"}, names())

	root.UnmoveChild(b, marker)
	require.Equal(t, []string{"1", "2"}, names())
}

func TestCloneAndCompare(t *testing.T) {
	sr := testSchema(t)
	users := sr.FindChild("test", "users")
	root := New(sr, "", "")
	require.NoError(t, root.InsertOrdered(listEntry(t, users, "1", "alice")))
	require.NoError(t, root.InsertOrdered(listEntry(t, users, "2", "bob")))

	copied := Clone(root, true)
	require.Equal(t, 0, Compare(root, copied, true))

	copied.VisibleChildren()[0].FindChild("test", "name").Scalar = "carol"
	require.NotEqual(t, 0, Compare(root, copied, true))
}

func TestDirtyPropagation(t *testing.T) {
	sr := testSchema(t)
	systemSch := sr.FindChild("test", "system")
	hostSch := systemSch.FindChild("test", "hostname")

	root := New(sr, "", "")
	system := New(systemSch, "system", "test")
	require.NoError(t, root.InsertOrdered(system))
	host := leaf(hostSch, "hostname", "r1")
	require.NoError(t, system.InsertOrdered(host))

	host.SetDirty()
	require.True(t, host.Flags.Dirty)
	require.True(t, system.Flags.SubtreeDirty)
	require.True(t, root.Flags.SubtreeDirty)

	host.ClearDirty()
	require.False(t, host.Flags.Dirty)
	require.False(t, system.Flags.SubtreeDirty)
	require.False(t, root.Flags.SubtreeDirty)
}

func TestKeyTuple(t *testing.T) {
	sr := testSchema(t)
	users := sr.FindChild("test", "users")
	e := listEntry(t, users, "42", "x")
	require.Equal(t, "42", KeyTuple(e))
}

// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package lock_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danos/confd/acm"
	"github.com/danos/confd/datastore"
	. "github.com/danos/confd/lock"
	"github.com/danos/confd/mgmterror"
	"github.com/danos/confd/schema"
	"github.com/danos/confd/xpath"
)

// buildTree returns a root with /a/x, /a/y and /b/z leaves.
func buildTree(t *testing.T) *datastore.Value {
	t.Helper()
	sr := schema.NewRoot()
	a := sr.AddChild(schema.NewObject("test", "a", schema.Container))
	a.AddChild(schema.NewObject("test", "x", schema.Leaf))
	a.AddChild(schema.NewObject("test", "y", schema.Leaf))
	b := sr.AddChild(schema.NewObject("test", "b", schema.Container))
	b.AddChild(schema.NewObject("test", "z", schema.Leaf))

	root := datastore.New(sr, "", "")
	av := datastore.New(a, "a", "test")
	require.NoError(t, root.InsertOrdered(av))
	for _, n := range []string{"x", "y"} {
		l := datastore.New(a.FindChild("test", n), n, "test")
		l.Scalar = n
		require.NoError(t, av.InsertOrdered(l))
	}
	bv := datastore.New(b, "b", "test")
	require.NoError(t, root.InsertOrdered(bv))
	z := datastore.New(b.FindChild("test", "z"), "z", "test")
	z.Scalar = "z"
	require.NoError(t, bv.InsertOrdered(z))
	return root
}

func sess(id uint32) acm.Session {
	return acm.Session{Id: id, User: "test"}
}

func addLock(t *testing.T, tbl *Table, root *datastore.Value, session uint32, selects ...string) (*PartialLock, error) {
	t.Helper()
	pcbs := make([]*xpath.Pcb, 0, len(selects))
	for _, s := range selects {
		pcbs = append(pcbs, xpath.Parse(s))
	}
	return tbl.AddPartialLock(root, sess(session), pcbs,
		xpath.BasicEvaluator{}, acm.AllowAll{}, false)
}

func TestGlobalLock(t *testing.T) {
	tbl := NewTable()

	require.NoError(t, tbl.Lock(1, "s1"))
	require.Equal(t, uint32(1), tbl.Locked())

	// Second holder denied, carrying the owner.
	err := tbl.Lock(2, "s2")
	require.Error(t, err)
	merr, ok := err.(*mgmterror.Error)
	require.True(t, ok)
	require.Equal(t, "lock-denied", merr.Tag)

	// Unlock requires the matching session.
	require.Error(t, tbl.Unlock(2))
	require.NoError(t, tbl.Unlock(1))
	require.Equal(t, uint32(0), tbl.Locked())
}

func TestGlobalLockRefusedWithPartialLocks(t *testing.T) {
	tbl := NewTable()
	root := buildTree(t)

	_, err := addLock(t, tbl, root, 1, "/a")
	require.NoError(t, err)

	err = tbl.Lock(2, "s2")
	require.Error(t, err)
	require.Equal(t, "in-use", err.(*mgmterror.Error).Tag)
}

func TestPartialLockDisjointSubtrees(t *testing.T) {
	tbl := NewTable()
	root := buildTree(t)

	// Two sessions' locks on disjoint subtrees both succeed.
	_, err := addLock(t, tbl, root, 1, "/a")
	require.NoError(t, err)
	_, err = addLock(t, tbl, root, 2, "/b")
	require.NoError(t, err)

	// Either's request overlapping the other fails with lock-denied.
	_, err = addLock(t, tbl, root, 2, "/a/x")
	require.Error(t, err)
	require.Equal(t, "lock-denied", err.(*mgmterror.Error).Tag)
}

func TestPartialLockAncestorConflict(t *testing.T) {
	tbl := NewTable()
	root := buildTree(t)

	_, err := addLock(t, tbl, root, 1, "/a/x")
	require.NoError(t, err)

	// Locking the ancestor of another session's lock is denied too.
	_, err = addLock(t, tbl, root, 2, "/a")
	require.Error(t, err)
	require.Equal(t, "lock-denied", err.(*mgmterror.Error).Tag)
}

func TestPartialLockPrunesRedundantNodes(t *testing.T) {
	tbl := NewTable()
	root := buildTree(t)

	pl, err := addLock(t, tbl, root, 1, "/a", "/a/x")
	require.NoError(t, err)
	// /a/x is covered by /a and pruned from the final result.
	require.Equal(t, 1, pl.FinalResult.Len())
	require.Equal(t, "a", pl.FinalResult.First().NodeName())
	require.NotEmpty(t, pl.Token)
}

func TestPartialLockEmptyNodeset(t *testing.T) {
	tbl := NewTable()
	root := buildTree(t)

	_, err := addLock(t, tbl, root, 1, "/no-such")
	require.Error(t, err)
	require.Equal(t, "operation-failed", err.(*mgmterror.Error).Tag)
}

func TestPartialLockDuringConfirmedCommit(t *testing.T) {
	tbl := NewTable()
	root := buildTree(t)

	_, err := tbl.AddPartialLock(root, sess(1),
		[]*xpath.Pcb{xpath.Parse("/a")},
		xpath.BasicEvaluator{}, acm.AllowAll{}, true)
	require.Error(t, err)
	require.Equal(t, "in-use", err.(*mgmterror.Error).Tag)
}

func TestWriteOK(t *testing.T) {
	tbl := NewTable()
	root := buildTree(t)

	_, err := addLock(t, tbl, root, 1, "/a")
	require.NoError(t, err)

	av := root.FindChild("test", "a")
	x := av.FindChild("test", "x")
	z := root.FindChild("test", "b").FindChild("test", "z")

	// The owner may write under its own lock.
	require.NoError(t, tbl.WriteOK(x, 1))

	// Another session is denied, carrying the owner session id.
	err = tbl.WriteOK(x, 2)
	require.Error(t, err)
	merr := err.(*mgmterror.Error)
	require.Equal(t, "lock-denied", merr.Tag)
	require.Equal(t, "1", merr.Info["session-id"])

	// Outside the locked subtree everyone may write.
	require.NoError(t, tbl.WriteOK(z, 2))
}

func TestReleasePartialLocks(t *testing.T) {
	tbl := NewTable()
	root := buildTree(t)

	pl, err := addLock(t, tbl, root, 1, "/a")
	require.NoError(t, err)
	_, err = addLock(t, tbl, root, 2, "/b")
	require.NoError(t, err)

	// Releasing one lock by id needs the owning session.
	require.Error(t, tbl.ReleasePartialLock(2, pl.Id))
	require.NoError(t, tbl.ReleasePartialLock(1, pl.Id))

	// Session teardown releases the rest.
	tbl.ReleasePartialLocks(2)
	require.False(t, tbl.HasPartialLocks())

	// Ids restart once no locks remain.
	pl2, err := addLock(t, tbl, root, 3, "/a")
	require.NoError(t, err)
	require.Equal(t, uint32(1), pl2.Id)
}

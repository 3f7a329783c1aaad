// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package txn_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danos/confd/acm"
	"github.com/danos/confd/datastore"
	"github.com/danos/confd/lock"
	"github.com/danos/confd/mgmterror"
	"github.com/danos/confd/schema"
	"github.com/danos/confd/sil"
	. "github.com/danos/confd/txn"
	"github.com/danos/confd/xpath"
)

func testSchema(t *testing.T) *schema.SchemaObject {
	t.Helper()
	root := schema.NewRoot()

	system := root.AddChild(schema.NewObject("test", "system", schema.Container))
	system.AddChild(schema.NewObject("test", "hostname", schema.Leaf))
	mtu := schema.NewObject("test", "mtu", schema.Leaf)
	mtu.Default = "1500"
	mtu.HasDefault = true
	system.AddChild(mtu)

	x := root.AddChild(schema.NewObject("test", "x", schema.Container))
	x.AddChild(schema.NewObject("test", "enabled", schema.Leaf))
	y := schema.NewObject("test", "y", schema.Leaf)
	y.When = "../enabled='true'"
	x.AddChild(y)

	users := schema.NewObject("test", "users", schema.List)
	users.Keys = []string{"id"}
	root.AddChild(users)
	users.AddChild(schema.NewObject("test", "id", schema.Leaf))
	users.AddChild(schema.NewObject("test", "name", schema.Leaf))

	servers := schema.NewObject("test", "servers", schema.LeafList)
	servers.OrderedByUser = true
	root.AddChild(servers)

	state := schema.NewObject("test", "counters", schema.Leaf)
	state.Config = false
	root.AddChild(state)

	return root
}

type silCall struct {
	phase sil.Phase
	op    sil.Op
	path  string
}

type silRecorder struct {
	calls  []silCall
	reg    *sil.Registry
	failOn func(c sil.Call) bool
}

func newSilRecorder(nodes ...*schema.SchemaObject) *silRecorder {
	r := &silRecorder{reg: sil.NewRegistry()}
	cb := func(ctx context.Context, c sil.Call) sil.Status {
		path := ""
		if c.CurNode != nil {
			path = c.CurNode.NodePath()
		} else if c.NewNode != nil {
			path = c.NewNode.NodePath()
		}
		r.calls = append(r.calls, silCall{phase: c.Phase, op: c.Op, path: path})
		if r.failOn != nil && r.failOn(c) {
			return sil.Fail(fmt.Errorf("instrumentation rejected %s", path))
		}
		return sil.OK()
	}
	set := &sil.CallbackSet{Validate: cb, Apply: cb, Commit: cb, Rollback: cb}
	for _, n := range nodes {
		r.reg.Register(n, set)
	}
	return r
}

type fixture struct {
	sr   *schema.SchemaObject
	root *datastore.Value
	pipe *Pipeline
	tx   *TxCb
}

func newFixture(t *testing.T, target datastore.Id) *fixture {
	t.Helper()
	sr := testSchema(t)
	return &fixture{
		sr:   sr,
		root: datastore.New(sr, "", ""),
		pipe: &Pipeline{
			Eval:  xpath.BasicEvaluator{},
			Acm:   acm.AllowAll{},
			Locks: lock.NewTable(),
			Sil:   sil.NewRegistry(),
		},
		tx: &TxCb{
			Txid:      1,
			Target:    target,
			Session:   acm.Session{Id: 10, User: "tester"},
			EditType:  EditPartial,
			DefaultOp: sil.OpMerge,
		},
	}
}

func (f *fixture) leaf(t *testing.T, parent *datastore.Value, sch *schema.SchemaObject, name, val string) *datastore.Value {
	t.Helper()
	v := datastore.New(sch, name, "test")
	v.Scalar = val
	require.NoError(t, parent.InsertOrdered(v))
	return v
}

func (f *fixture) container(t *testing.T, parent *datastore.Value, sch *schema.SchemaObject, name string) *datastore.Value {
	t.Helper()
	v := datastore.New(sch, name, "test")
	require.NoError(t, parent.InsertOrdered(v))
	return v
}

// editTree builds a PDU tree for one path of (schema, name, value)
// steps, attaching op to the deepest node.
func editTree(sr *schema.SchemaObject, op sil.Op, steps ...[3]string) *datastore.Value {
	root := datastore.New(sr, "", "")
	cur := root
	curSchema := sr
	for i, s := range steps {
		cs := curSchema.FindChild("test", s[0])
		n := datastore.New(cs, s[0], "test")
		n.Scalar = s[1]
		if s[2] != "" {
			key := datastore.New(cs.FindChild("test", cs.Keys[0]), cs.Keys[0], "test")
			key.Scalar = s[2]
			n.InsertOrdered(key)
		}
		if i == len(steps)-1 {
			n.EditOp = op
		}
		cur.InsertOrdered(n)
		cur = n
		curSchema = cs
	}
	return root
}

func (f *fixture) run(t *testing.T, edit *datastore.Value) error {
	t.Helper()
	ctx := context.Background()
	if errs := f.pipe.Validate(ctx, f.tx, edit, f.root); errs.HasErrors() {
		return errs
	}
	if err := f.pipe.Apply(ctx, f.tx, edit, f.root); err != nil {
		f.pipe.Rollback(ctx, f.tx)
		return err
	}
	if err := f.pipe.SweepDeadNodes(ctx, f.tx, f.root); err != nil {
		f.pipe.Rollback(ctx, f.tx)
		return err
	}
	if err := f.pipe.Commit(ctx, f.tx); err != nil {
		f.pipe.Rollback(ctx, f.tx)
		return err
	}
	return nil
}

func TestMergeNewLeafAddsDefaults(t *testing.T) {
	f := newFixture(t, datastore.Running)
	edit := editTree(f.sr, sil.OpMerge,
		[3]string{"system", "", ""}, [3]string{"hostname", "r1", ""})

	require.NoError(t, f.run(t, edit))

	system := f.root.FindChild("test", "system")
	require.NotNil(t, system)
	require.Equal(t, "r1", system.FindChild("test", "hostname").ScalarValue())

	// The defaulted mtu leaf came along with the container.
	mtu := system.FindChild("test", "mtu")
	require.NotNil(t, mtu)
	require.Equal(t, "1500", mtu.ScalarValue())
	require.True(t, mtu.IsDefault())
}

func TestMergeExistingLeafRecordsSet(t *testing.T) {
	f := newFixture(t, datastore.Running)
	sysSch := f.sr.FindChild("test", "system")
	system := f.container(t, f.root, sysSch, "system")
	f.leaf(t, system, sysSch.FindChild("test", "hostname"), "hostname", "old")

	edit := editTree(f.sr, sil.OpMerge,
		[3]string{"system", "", ""}, [3]string{"hostname", "new", ""})
	require.NoError(t, f.run(t, edit))

	require.Equal(t, "new", system.FindChild("test", "hostname").ScalarValue())
	require.Equal(t, 1, len(f.tx.Undo))
	require.Equal(t, ActSet, f.tx.Undo[0].Action)
}

func TestCreateExistingFails(t *testing.T) {
	f := newFixture(t, datastore.Running)
	sysSch := f.sr.FindChild("test", "system")
	system := f.container(t, f.root, sysSch, "system")
	f.leaf(t, system, sysSch.FindChild("test", "hostname"), "hostname", "r1")

	edit := editTree(f.sr, sil.OpCreate,
		[3]string{"system", "", ""}, [3]string{"hostname", "r2", ""})
	err := f.run(t, edit)
	require.Error(t, err)
	merr, ok := err.(*mgmterror.Error)
	require.True(t, ok)
	require.Equal(t, "data-exists", merr.Tag)
	require.Equal(t, "/system/hostname", merr.Path)

	// Rolled back: the original value stands.
	require.Equal(t, "r1", system.FindChild("test", "hostname").ScalarValue())
}

func TestCreateOnDefaultLeafMerges(t *testing.T) {
	f := newFixture(t, datastore.Running)
	sysSch := f.sr.FindChild("test", "system")
	system := f.container(t, f.root, sysSch, "system")
	mtu := f.leaf(t, system, sysSch.FindChild("test", "mtu"), "mtu", "1500")
	mtu.Flags.Default = true

	edit := editTree(f.sr, sil.OpCreate,
		[3]string{"system", "", ""}, [3]string{"mtu", "9000", ""})
	require.NoError(t, f.run(t, edit))

	require.Equal(t, "9000", mtu.ScalarValue())
	require.False(t, mtu.IsDefault())
	require.Equal(t, ActSet, f.tx.Undo[0].Action)
}

func TestDeleteMissingAndRemoveMissing(t *testing.T) {
	f := newFixture(t, datastore.Running)

	edit := editTree(f.sr, sil.OpDelete, [3]string{"system", "", ""})
	err := f.run(t, edit)
	require.Error(t, err)
	require.Equal(t, "data-missing", err.(*mgmterror.Error).Tag)

	f2 := newFixture(t, datastore.Running)
	edit = editTree(f2.sr, sil.OpRemove, [3]string{"system", "", ""})
	require.NoError(t, f2.run(t, edit))
	require.Equal(t, 0, len(f2.tx.Undo))
}

func TestDeleteLeafWithDefaultResets(t *testing.T) {
	f := newFixture(t, datastore.Running)
	sysSch := f.sr.FindChild("test", "system")
	system := f.container(t, f.root, sysSch, "system")
	mtu := f.leaf(t, system, sysSch.FindChild("test", "mtu"), "mtu", "9000")

	edit := editTree(f.sr, sil.OpDelete,
		[3]string{"system", "", ""}, [3]string{"mtu", "", ""})
	require.NoError(t, f.run(t, edit))

	require.Equal(t, "1500", mtu.ScalarValue())
	require.True(t, mtu.IsDefault())
	require.Equal(t, ActDeleteDefault, f.tx.Undo[0].Action)
}

func TestDeleteSubtreeAndRollback(t *testing.T) {
	f := newFixture(t, datastore.Running)
	usersSch := f.sr.FindChild("test", "users")
	entry := f.container(t, f.root, usersSch, "users")
	f.leaf(t, entry, usersSch.FindChild("test", "id"), "id", "1")
	f.leaf(t, entry, usersSch.FindChild("test", "name"), "name", "alice")
	before := datastore.Clone(f.root, true)

	edit := editTree(f.sr, sil.OpDelete, [3]string{"users", "", "1"})

	ctx := context.Background()
	require.False(t, f.pipe.Validate(ctx, f.tx, edit, f.root).HasErrors())
	require.NoError(t, f.pipe.Apply(ctx, f.tx, edit, f.root))

	// Deleted entries are invisible to readers before commit.
	require.Nil(t, f.root.FindChild("test", "users"))

	// Roll back instead of committing: every node reachable before
	// remains, identical in content and position.
	f.pipe.Rollback(ctx, f.tx)
	require.Equal(t, 0, datastore.Compare(before, f.root, true))
	require.Equal(t, "alice", f.root.FindChild("test", "users").
		FindChild("test", "name").ScalarValue())
}

func TestDeleteCommitUnlinksNode(t *testing.T) {
	f := newFixture(t, datastore.Running)
	usersSch := f.sr.FindChild("test", "users")
	entry := f.container(t, f.root, usersSch, "users")
	f.leaf(t, entry, usersSch.FindChild("test", "id"), "id", "1")

	edit := editTree(f.sr, sil.OpDelete, [3]string{"users", "", "1"})
	require.NoError(t, f.run(t, edit))

	require.Nil(t, f.root.FindChild("test", "users"))
	// The marker was unlinked as well: no children left at all.
	require.Equal(t, 0, len(f.root.Children))
}

func TestReadOnlyNodeRejectsMutation(t *testing.T) {
	f := newFixture(t, datastore.Running)
	edit := editTree(f.sr, sil.OpMerge, [3]string{"counters", "5", ""})

	err := f.run(t, edit)
	require.Error(t, err)
	errs := err.(*mgmterror.List)
	require.Equal(t, "access-denied", errs.Errors[0].Tag)
}

func TestBadAttributeNestedUnderDelete(t *testing.T) {
	f := newFixture(t, datastore.Running)
	sysSch := f.sr.FindChild("test", "system")

	edit := datastore.New(f.sr, "", "")
	system := datastore.New(sysSch, "system", "test")
	system.EditOp = sil.OpDelete
	edit.InsertOrdered(system)
	host := datastore.New(sysSch.FindChild("test", "hostname"), "hostname", "test")
	host.EditOp = sil.OpCreate
	system.InsertOrdered(host)

	err := f.run(t, edit)
	require.Error(t, err)
	errs := err.(*mgmterror.List)
	require.Equal(t, "bad-attribute", errs.Errors[0].Tag)
}

func TestUnexpectedInsertAttrs(t *testing.T) {
	f := newFixture(t, datastore.Running)
	sysSch := f.sr.FindChild("test", "system")

	edit := datastore.New(f.sr, "", "")
	system := datastore.New(sysSch, "system", "test")
	system.EditOp = sil.OpMerge
	system.EditVars = datastore.EditVars{InsertOp: datastore.InsertFirst}
	edit.InsertOrdered(system)

	err := f.run(t, edit)
	require.Error(t, err)
	errs := err.(*mgmterror.List)
	require.Equal(t, "unknown-attribute", errs.Errors[0].Tag)
}

func TestMissingListKey(t *testing.T) {
	f := newFixture(t, datastore.Running)
	usersSch := f.sr.FindChild("test", "users")

	edit := datastore.New(f.sr, "", "")
	entry := datastore.New(usersSch, "users", "test")
	entry.EditOp = sil.OpCreate
	edit.InsertOrdered(entry)

	err := f.run(t, edit)
	require.Error(t, err)
	errs := err.(*mgmterror.List)
	require.Equal(t, "missing-element", errs.Errors[0].Tag)
}

func TestInsertIntoEmptyOrderedByUserLeafList(t *testing.T) {
	for _, insertop := range []datastore.InsertOp{datastore.InsertFirst, datastore.InsertLast} {
		f := newFixture(t, datastore.Running)
		srvSch := f.sr.FindChild("test", "servers")

		edit := datastore.New(f.sr, "", "")
		entry := datastore.New(srvSch, "servers", "test")
		entry.Scalar = "s1"
		entry.EditOp = sil.OpMerge
		entry.EditVars = datastore.EditVars{InsertOp: insertop}
		edit.InsertOrdered(entry)

		require.NoError(t, f.run(t, edit))
		require.Equal(t, 1, len(f.root.VisibleChildren()))
		require.Equal(t, "s1", f.root.VisibleChildren()[0].ScalarValue())
	}
}

func TestValidateLockDenied(t *testing.T) {
	f := newFixture(t, datastore.Running)
	sysSch := f.sr.FindChild("test", "system")
	f.container(t, f.root, sysSch, "system")

	// Session 1 partial-locks /system; the transaction runs as 10.
	_, err := f.pipe.Locks.AddPartialLock(f.root,
		acm.Session{Id: 1}, []*xpath.Pcb{xpath.Parse("/system")},
		xpath.BasicEvaluator{}, acm.AllowAll{}, false)
	require.NoError(t, err)

	edit := editTree(f.sr, sil.OpMerge,
		[3]string{"system", "", ""}, [3]string{"hostname", "r1", ""})
	err = f.run(t, edit)
	require.Error(t, err)
	errs := err.(*mgmterror.List)
	require.Equal(t, "lock-denied", errs.Errors[0].Tag)
	require.Equal(t, "1", errs.Errors[0].Info["session-id"])

	// No UndoRec was created.
	require.Equal(t, 0, len(f.tx.Undo))
}

func TestWhenSweepCascadeDelete(t *testing.T) {
	f := newFixture(t, datastore.Running)
	xSch := f.sr.FindChild("test", "x")
	ySch := xSch.FindChild("test", "y")
	rec := newSilRecorder(ySch)
	f.pipe.Sil = rec.reg

	xv := f.container(t, f.root, xSch, "x")
	f.leaf(t, xv, xSch.FindChild("test", "enabled"), "enabled", "true")
	f.leaf(t, xv, ySch, "y", "1")

	edit := editTree(f.sr, sil.OpMerge,
		[3]string{"x", "", ""}, [3]string{"enabled", "false", ""})
	require.NoError(t, f.run(t, edit))

	// The guarded leaf is gone; only enabled remains.
	require.Equal(t, 1, len(xv.VisibleChildren()))
	require.Equal(t, "false", xv.FindChild("test", "enabled").ScalarValue())
	require.Equal(t, 1, len(f.tx.DeadNodes))

	// The SIL delete callback fired for /x/y at commit.
	var sawDelete bool
	for _, c := range rec.calls {
		if c.phase == sil.PhaseCommit && c.op == sil.OpDelete && c.path == "/x/y" {
			sawDelete = true
		}
	}
	require.True(t, sawDelete)
}

func TestSilCommitFailureTriggersRollback(t *testing.T) {
	f := newFixture(t, datastore.Running)
	sysSch := f.sr.FindChild("test", "system")
	hostSch := sysSch.FindChild("test", "hostname")
	mtuSch := sysSch.FindChild("test", "mtu")
	rec := newSilRecorder(hostSch, mtuSch)
	f.pipe.Sil = rec.reg

	system := f.container(t, f.root, sysSch, "system")
	f.leaf(t, system, hostSch, "hostname", "old")
	f.leaf(t, system, mtuSch, "mtu", "9000")
	before := datastore.Clone(f.root, true)

	// First commit callback (hostname) succeeds, second (mtu) fails.
	rec.failOn = func(c sil.Call) bool {
		return c.Phase == sil.PhaseCommit && c.NewNode != nil &&
			c.NewNode.NodePath() == "/system/mtu"
	}

	edit := datastore.New(f.sr, "", "")
	sysEdit := datastore.New(sysSch, "system", "test")
	edit.InsertOrdered(sysEdit)
	h := datastore.New(hostSch, "hostname", "test")
	h.Scalar = "new"
	h.EditOp = sil.OpMerge
	sysEdit.InsertOrdered(h)
	m := datastore.New(mtuSch, "mtu", "test")
	m.Scalar = "1400"
	m.EditOp = sil.OpMerge
	sysEdit.InsertOrdered(m)

	err := f.run(t, edit)
	require.Error(t, err)

	// Everything was rolled back.
	require.Equal(t, 0, datastore.Compare(before, f.root, true))
	require.Equal(t, "old", system.FindChild("test", "hostname").ScalarValue())

	// The already-committed hostname record got a reversing apply+commit
	// pair; the failed mtu record got a rollback callback.
	var reverseApply, rollbackCb bool
	for _, c := range rec.calls {
		if c.phase == sil.PhaseApply && c.path == "/system/hostname" &&
			c.op == sil.OpMerge {
			reverseApply = true
		}
		if c.phase == sil.PhaseRollback && c.path == "/system/mtu" {
			rollbackCb = true
		}
	}
	require.True(t, reverseApply)
	require.True(t, rollbackCb)
}

func TestCandidateEditInvokesNoSil(t *testing.T) {
	f := newFixture(t, datastore.Candidate)
	sysSch := f.sr.FindChild("test", "system")
	rec := newSilRecorder(sysSch)
	f.pipe.Sil = rec.reg

	edit := editTree(f.sr, sil.OpMerge,
		[3]string{"system", "", ""}, [3]string{"hostname", "r1", ""})
	require.NoError(t, f.run(t, edit))

	require.Empty(t, rec.calls)
	// Candidate keeps its dirty flags for the later commit diff.
	require.True(t, f.root.FindChild("test", "system").Flags.Dirty)
	require.True(t, f.root.Flags.SubtreeDirty)
}

func TestAuditRecords(t *testing.T) {
	f := newFixture(t, datastore.Running)
	edit := editTree(f.sr, sil.OpMerge,
		[3]string{"system", "", ""}, [3]string{"hostname", "r1", ""})
	require.NoError(t, f.run(t, edit))

	require.Equal(t, 1, len(f.tx.Audit))
	// Merge-type edits audit as replace.
	require.Equal(t, sil.OpReplace, f.tx.Audit[0].Op)
	require.Equal(t, "/system", f.tx.Audit[0].Path)
}

func TestReverseEditMapping(t *testing.T) {
	tests := []struct {
		name   string
		rec    *UndoRec
		wantOp sil.Op
		noop   bool
	}{
		{
			name:   "add reverses as delete",
			rec:    &UndoRec{Action: ActAdd, EditOp: sil.OpCreate, NewNode: datastore.New(nil, "n", "")},
			wantOp: sil.OpDelete,
		},
		{
			name:   "delete reverses as create",
			rec:    &UndoRec{Action: ActDelete, EditOp: sil.OpDelete, CurNode: datastore.New(nil, "n", "")},
			wantOp: sil.OpCreate,
		},
		{
			name:   "set reverses with original op",
			rec:    &UndoRec{Action: ActSet, EditOp: sil.OpMerge, CurNode: datastore.New(nil, "n", "")},
			wantOp: sil.OpMerge,
		},
		{
			name: "delete-default of default leaf is a no-op",
			rec: func() *UndoRec {
				clone := datastore.New(nil, "n", "")
				clone.Flags.Default = true
				return &UndoRec{Action: ActDeleteDefault, EditOp: sil.OpDelete, CurClone: clone}
			}(),
			noop: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rc := tc.rec.ReverseEdit()
			require.Equal(t, tc.noop, rc.NoOp)
			if !tc.noop {
				require.Equal(t, tc.wantOp, rc.Op)
			}
		})
	}
}

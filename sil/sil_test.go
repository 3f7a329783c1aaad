// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package sil

import (
	"context"
	"errors"
	"testing"

	"github.com/danos/confd/schema"
)

func TestStatusDistinguishesOutcomes(t *testing.T) {
	if !OK().IsOK() || OK().IsSkipped() || OK().Err() != nil {
		t.Fatal("OK status misreported")
	}
	if Skipped().IsOK() || !Skipped().IsSkipped() {
		t.Fatal("Skipped status misreported")
	}
	fail := Fail(errors.New("nope"))
	if fail.IsOK() || fail.IsSkipped() || fail.Err() == nil {
		t.Fatal("Fail status misreported")
	}
}

func TestLookupNearestAncestorWins(t *testing.T) {
	root := schema.NewRoot()
	a := root.AddChild(schema.NewObject("test", "a", schema.Container))
	b := a.AddChild(schema.NewObject("test", "b", schema.Container))
	c := b.AddChild(schema.NewObject("test", "c", schema.Leaf))

	reg := NewRegistry()
	rootSet := &CallbackSet{}
	aSet := &CallbackSet{}
	reg.Register(root, rootSet)
	reg.Register(a, aSet)

	got, at := reg.Lookup(c)
	if got != aSet || at != a {
		t.Fatalf("lookup from c should resolve to a's set, got %v at %v", got, at)
	}

	got, at = reg.Lookup(a)
	if got != aSet || at != a {
		t.Fatal("lookup on a registered node should return its own set")
	}
}

func TestInvokeWithoutCallbackIsOK(t *testing.T) {
	root := schema.NewRoot()
	a := root.AddChild(schema.NewObject("test", "a", schema.Container))

	reg := NewRegistry()
	st := reg.Invoke(context.Background(), a, Call{Phase: PhaseCommit, Op: OpCreate})
	if !st.IsOK() {
		t.Fatalf("missing callback must be a no-op success, got %v", st)
	}
}

func TestInvokeDispatchesByPhase(t *testing.T) {
	root := schema.NewRoot()
	a := root.AddChild(schema.NewObject("test", "a", schema.Container))

	var phases []Phase
	mk := func(p Phase) Callback {
		return func(ctx context.Context, c Call) Status {
			phases = append(phases, p)
			return OK()
		}
	}
	reg := NewRegistry()
	reg.Register(a, &CallbackSet{
		Validate: mk(PhaseValidate),
		Apply:    mk(PhaseApply),
		Commit:   mk(PhaseCommit),
		Rollback: mk(PhaseRollback),
	})

	for _, p := range []Phase{PhaseValidate, PhaseApply, PhaseCommit, PhaseRollback} {
		reg.Invoke(context.Background(), a, Call{Phase: p})
	}
	for i, p := range []Phase{PhaseValidate, PhaseApply, PhaseCommit, PhaseRollback} {
		if phases[i] != p {
			t.Fatalf("phase %d dispatched to %v", i, phases[i])
		}
	}
}

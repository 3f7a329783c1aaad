// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package acm

import "testing"

func TestGroupChecker(t *testing.T) {
	g := &GroupChecker{
		Rules: []Rule{
			{Group: "netops", Prefix: "/interfaces",
				Ops: []Op{OpCreate, OpUpdate, OpDelete}},
			{Group: "audit", Prefix: "/", Ops: []Op{OpRead}},
		},
	}

	tests := []struct {
		name    string
		session Session
		path    string
		op      Op
		want    bool
	}{
		{
			name:    "superuser always allowed",
			session: Session{Id: 1, Superuser: true},
			path:    "/anything", op: OpDelete, want: true,
		},
		{
			name:    "group rule grants write under prefix",
			session: Session{Id: 2, Groups: []string{"netops"}},
			path:    "/interfaces/dataplane", op: OpUpdate, want: true,
		},
		{
			name:    "group rule does not extend past prefix",
			session: Session{Id: 2, Groups: []string{"netops"}},
			path:    "/system", op: OpUpdate, want: false,
		},
		{
			name:    "unmatched session may still read",
			session: Session{Id: 3, Groups: []string{"guests"}},
			path:    "/system", op: OpRead, want: true,
		},
		{
			name:    "unmatched session may not write",
			session: Session{Id: 3, Groups: []string{"guests"}},
			path:    "/system", op: OpCreate, want: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := g.Allowed(tc.session, tc.path, tc.op); got != tc.want {
				t.Fatalf("Allowed(%v, %q, %v) = %v, want %v",
					tc.session, tc.path, tc.op, got, tc.want)
			}
		})
	}
}

func TestAllowAll(t *testing.T) {
	var c Checker = AllowAll{}
	if !c.Allowed(Session{}, "/x", OpDelete) {
		t.Fatal("AllowAll denied something")
	}
}

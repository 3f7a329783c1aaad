// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package acm fixes the access-control contract the engine calls out to
// (spec.md §6). The real access-control machinery (rule compilation,
// group databases) is an external collaborator; this package ships the
// interface plus two implementations: AllowAll for callers with their
// own enforcement upstream, and GroupChecker, a path-prefix rule table
// keyed by the caller's groups.
package acm

import "strings"

// Op is the access being requested for a node.
type Op int

const (
	OpRead Op = iota
	OpCreate
	OpUpdate
	OpDelete
	OpExecute
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpExecute:
		return "execute"
	}
	return "unknown"
}

// Session identifies the requesting session to the checker.
type Session struct {
	Id        uint32
	User      string
	Groups    []string
	Superuser bool
}

// Checker is the ACM contract: checked once per node per phase.
type Checker interface {
	Allowed(session Session, path string, op Op) bool
}

// AllowAll permits everything. Used when access control is enforced
// before requests reach the engine.
type AllowAll struct{}

func (AllowAll) Allowed(Session, string, Op) bool { return true }

// Rule grants a set of operations under a path prefix to one group.
type Rule struct {
	Group  string
	Prefix string
	Ops    []Op
}

func (r *Rule) allows(path string, op Op) bool {
	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	for _, o := range r.Ops {
		if o == op {
			return true
		}
	}
	return false
}

// GroupChecker authorizes by group membership against a rule table.
// A superuser session is always allowed; otherwise any rule for one of
// the session's groups that allows the path and op grants access (rules
// only grant, they never deny). Requests no rule grants are denied
// writes but allowed reads, mirroring NACM's default
// read-permit/write-deny stance.
type GroupChecker struct {
	Rules []Rule
}

func (g *GroupChecker) Allowed(session Session, path string, op Op) bool {
	if session.Superuser {
		return true
	}
	for _, r := range g.Rules {
		for _, grp := range session.Groups {
			if r.Group != grp {
				continue
			}
			if r.allows(path, op) {
				return true
			}
		}
	}
	return op == OpRead
}

// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package schema defines SchemaObject, the read-only-after-init schema
// tree the engine validates and applies against (spec.md §3). Compiling
// a .yang model into this shape is the job of an external schema
// compiler; this package only fixes the in-memory representation plus a
// small constructor API and, for tests, a YAML fixture loader.
package schema

import "strings"

// Kind is the YANG statement kind a SchemaObject represents.
type Kind int

const (
	Container Kind = iota
	Leaf
	LeafList
	List
	Choice
	Case
	Anyxml
	Rpc
	RpcIO
	Notification
	Augment
	Uses
	Refine
	RootKind
)

func (k Kind) String() string {
	switch k {
	case Container:
		return "container"
	case Leaf:
		return "leaf"
	case LeafList:
		return "leaf-list"
	case List:
		return "list"
	case Choice:
		return "choice"
	case Case:
		return "case"
	case Anyxml:
		return "anyxml"
	case Rpc:
		return "rpc"
	case RpcIO:
		return "rpcio"
	case Notification:
		return "notification"
	case Augment:
		return "augment"
	case Uses:
		return "uses"
	case Refine:
		return "refine"
	case RootKind:
		return "root"
	}
	return "unknown"
}

// TypeKind distinguishes the handful of YANG types the commit checker
// must give special treatment (leafref resolution, instance-identifier
// resolution); every other type is opaque scalar data to the engine.
type TypeKind int

const (
	Other TypeKind = iota
	LeafrefType
	InstanceIdentifierType
	IdentityrefType
)

type TypeDescriptor struct {
	Kind            TypeKind
	LeafrefPath     string // XPath expression, relative to the leafref leaf
	IdentityBase    string
	RequireInstance bool // leafref/instance-id "require-instance true" (default)
}

// MustExpr is one `must` statement attached to a SchemaObject.
type MustExpr struct {
	Expr         string
	ErrorMessage string
}

// UniqueTuple is one `unique` statement's set of relative leaf paths.
type UniqueTuple struct {
	Paths []string
}

// TestFlags are precomputed at schema-load time (spec.md §4.5) so the
// commit checker never has to re-derive "does this object need a
// min-elements test" from scratch on every transaction.
type TestFlags struct {
	MinElems  bool
	MaxElems  bool
	Mandatory bool
	Choice    bool
	Must      bool
	Unique    bool
	XPathType bool
	When      bool
}

// SchemaObject is the schema node type described in spec.md §3.
type SchemaObject struct {
	Module string
	Name   string
	Kind   Kind

	Config     bool
	Mandatory  bool
	Default    string
	HasDefault bool

	MinElements   int
	MaxElements   int // 0 means unbounded
	OrderedByUser bool

	Must []MustExpr
	When string // empty means no when

	Keys   []string // key leaf names, for List
	Unique []UniqueTuple

	Type TypeDescriptor

	SilDeleteChildrenFirst bool

	Parent   *SchemaObject
	Children []*SchemaObject

	Tests TestFlags
}

// NewRoot constructs the distinguished root SchemaObject (spec.md §3).
func NewRoot() *SchemaObject {
	return &SchemaObject{Name: "", Kind: RootKind, Config: true}
}

// NewObject constructs a detached SchemaObject; call AddChild on the
// intended parent to link it in.
func NewObject(module, name string, kind Kind) *SchemaObject {
	return &SchemaObject{Module: module, Name: name, Kind: kind, Config: true}
}

// AddChild links child under parent and computes the child's TestFlags.
func (s *SchemaObject) AddChild(child *SchemaObject) *SchemaObject {
	child.Parent = s
	s.Children = append(s.Children, child)
	child.computeTestFlags()
	return child
}

func (s *SchemaObject) computeTestFlags() {
	s.Tests = TestFlags{
		MinElems:  s.MinElements > 0,
		MaxElems:  s.MaxElements > 0,
		Mandatory: s.Mandatory,
		Choice:    s.Kind == Choice,
		Must:      len(s.Must) > 0,
		Unique:    len(s.Unique) > 0,
		XPathType: s.Type.Kind == LeafrefType || s.Type.Kind == InstanceIdentifierType,
		When:      s.When != "",
	}
}

// FindChild looks up an immediate child by (module, name). An empty
// module matches any module, mirroring unqualified lookups within the
// same namespace.
func (s *SchemaObject) FindChild(module, name string) *SchemaObject {
	for _, c := range s.Children {
		if c.Name == name && (module == "" || c.Module == "" || c.Module == module) {
			return c
		}
	}
	return nil
}

func (s *SchemaObject) IsLeaf() bool {
	return s.Kind == Leaf || s.Kind == LeafList
}

func (s *SchemaObject) IsList() bool {
	return s.Kind == List || s.Kind == LeafList
}

func (s *SchemaObject) IsConfig() bool {
	return s.Config
}

// Path renders the schema node's position for diagnostics, "/"-joined
// from the root.
func (s *SchemaObject) Path() string {
	if s.Parent == nil || s.Parent.Kind == RootKind {
		return "/" + s.Name
	}
	return s.Parent.Path() + "/" + s.Name
}

// WalkUp visits s and every ancestor, innermost first, stopping when fn
// returns true. Used by sil.Registry.Lookup's "nearest ancestor wins"
// dispatch.
func (s *SchemaObject) WalkUp(fn func(*SchemaObject) bool) {
	for n := s; n != nil; n = n.Parent {
		if fn(n) {
			return
		}
	}
}

// AllMandatoryDescendantsGuarded reports whether every mandatory
// descendant of an NP-container is reachable only under a `when`,
// implementing the mandatory/min-elements suppression rule of spec.md
// §4.5.
func (s *SchemaObject) AllMandatoryDescendantsGuarded() bool {
	for _, c := range s.Children {
		if c.Tests.Mandatory && c.When == "" {
			return false
		}
		if !c.Tests.Mandatory && c.Kind == Container && !c.AllMandatoryDescendantsGuarded() {
			return false
		}
	}
	return true
}

// NormalizedPath lower-cases nothing but drops empty segments, so
// repeated, leading and trailing separators are stripped.
func NormalizedPath(p string) string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, "/")
}

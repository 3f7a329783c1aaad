// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// fixtureNode mirrors a compact YAML description of a SchemaObject tree,
// standing in for the real YANG compiler's output in tests.
type fixtureNode struct {
	Name                string        `yaml:"name"`
	Module              string        `yaml:"module"`
	Kind                string        `yaml:"kind"`
	Config              *bool         `yaml:"config"`
	Mandatory           bool          `yaml:"mandatory"`
	Default             string        `yaml:"default"`
	HasDefault          bool          `yaml:"has_default"`
	MinElements         int           `yaml:"min_elements"`
	MaxElements         int           `yaml:"max_elements"`
	OrderedByUser       bool          `yaml:"ordered_by_user"`
	Must                []string      `yaml:"must"`
	When                string        `yaml:"when"`
	Keys                []string      `yaml:"keys"`
	Unique              [][]string    `yaml:"unique"`
	Type                *fixtureType  `yaml:"type"`
	DeleteChildrenFirst bool          `yaml:"sil_delete_children_first"`
	Children            []fixtureNode `yaml:"children"`
}

type fixtureType struct {
	Kind            string `yaml:"kind"`
	LeafrefPath     string `yaml:"leafref_path"`
	IdentityBase    string `yaml:"identity_base"`
	RequireInstance *bool  `yaml:"require_instance"`
}

var kindByName = map[string]Kind{
	"container":    Container,
	"leaf":         Leaf,
	"leaf-list":    LeafList,
	"list":         List,
	"choice":       Choice,
	"case":         Case,
	"anyxml":       Anyxml,
	"rpc":          Rpc,
	"rpcio":        RpcIO,
	"notification": Notification,
	"augment":      Augment,
	"uses":         Uses,
	"refine":       Refine,
}

var typeKindByName = map[string]TypeKind{
	"":                    Other,
	"leafref":             LeafrefType,
	"instance-identifier": InstanceIdentifierType,
	"identityref":         IdentityrefType,
}

// LoadFixture parses a YAML schema description (rooted at an implicit
// root container) into a SchemaObject tree.
func LoadFixture(data []byte) (*SchemaObject, error) {
	var root fixtureNode
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("schema: invalid fixture: %w", err)
	}
	r := NewRoot()
	for _, c := range root.Children {
		obj, err := buildFixtureNode(c)
		if err != nil {
			return nil, err
		}
		r.AddChild(obj)
	}
	return r, nil
}

func buildFixtureNode(f fixtureNode) (*SchemaObject, error) {
	kind, ok := kindByName[f.Kind]
	if !ok {
		return nil, fmt.Errorf("schema: unknown kind %q for node %q", f.Kind, f.Name)
	}
	obj := NewObject(f.Module, f.Name, kind)
	if f.Config != nil {
		obj.Config = *f.Config
	}
	obj.Mandatory = f.Mandatory
	obj.Default = f.Default
	obj.HasDefault = f.HasDefault || f.Default != ""
	obj.MinElements = f.MinElements
	obj.MaxElements = f.MaxElements
	obj.OrderedByUser = f.OrderedByUser
	obj.When = f.When
	obj.Keys = f.Keys
	obj.SilDeleteChildrenFirst = f.DeleteChildrenFirst
	for _, m := range f.Must {
		obj.Must = append(obj.Must, MustExpr{Expr: m})
	}
	for _, u := range f.Unique {
		obj.Unique = append(obj.Unique, UniqueTuple{Paths: u})
	}
	if f.Type != nil {
		tk, ok := typeKindByName[f.Type.Kind]
		if !ok {
			return nil, fmt.Errorf("schema: unknown type kind %q", f.Type.Kind)
		}
		obj.Type = TypeDescriptor{
			Kind:         tk,
			LeafrefPath:  f.Type.LeafrefPath,
			IdentityBase: f.Type.IdentityBase,
		}
		obj.Type.RequireInstance = true
		if f.Type.RequireInstance != nil {
			obj.Type.RequireInstance = *f.Type.RequireInstance
		}
	}
	obj.computeTestFlags()
	for _, c := range f.Children {
		child, err := buildFixtureNode(c)
		if err != nil {
			return nil, err
		}
		obj.AddChild(child)
	}
	return obj, nil
}

// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"github.com/danos/confd/datastore"
	"github.com/danos/confd/mgmterror"
	"github.com/danos/confd/schema"
	"github.com/danos/confd/sil"
)

// BuildPathEdit turns a CLI-style path into a one-branch edit tree the
// engine can run: containers become plain nodes, a list name is
// followed by its (first) key value, and for a leaf the final element
// is the value being set. The operation attaches to the deepest node.
func BuildPathEdit(schemaRoot *schema.SchemaObject, path []string, op sil.Op) (*datastore.Value, error) {
	root := datastore.New(schemaRoot, "", "")
	cur := root
	curSchema := schemaRoot

	for i := 0; i < len(path); i++ {
		elem := path[i]
		cs := findDataChild(curSchema, elem)
		if cs == nil {
			return nil, mgmterror.NewInvalidValueError(
				"path element " + elem + " is not valid here").
				WithPath(cur.Path() + "/" + elem)
		}

		switch cs.Kind {
		case schema.Leaf:
			n := datastore.New(cs, cs.Name, cur.Namespace)
			if i+1 < len(path) {
				n.Scalar = path[i+1]
				i++
			} else if op != sil.OpDelete && op != sil.OpRemove {
				return nil, mgmterror.NewInvalidValueError(
					"leaf " + elem + " requires a value")
			}
			cur.InsertOrdered(n)
			cur = n

		case schema.LeafList:
			if i+1 >= len(path) {
				return nil, mgmterror.NewInvalidValueError(
					"leaf-list " + elem + " requires a value")
			}
			n := datastore.New(cs, cs.Name, cur.Namespace)
			n.Scalar = path[i+1]
			i++
			cur.InsertOrdered(n)
			cur = n

		case schema.List:
			if i+1 >= len(path) || len(cs.Keys) == 0 {
				return nil, mgmterror.NewMissingKeyError(
					cur.Path() + "/" + elem)
			}
			entry := datastore.New(cs, cs.Name, cur.Namespace)
			keySchema := findDataChild(cs, cs.Keys[0])
			if keySchema == nil {
				return nil, mgmterror.NewInternalError(
					"list " + cs.Name + " key schema missing")
			}
			key := datastore.New(keySchema, keySchema.Name, cur.Namespace)
			key.Scalar = path[i+1]
			i++
			entry.InsertOrdered(key)
			cur.InsertOrdered(entry)
			cur = entry

		default:
			n := datastore.New(cs, cs.Name, cur.Namespace)
			cur.InsertOrdered(n)
			cur = n
		}
		curSchema = cs
	}

	cur.EditOp = op
	return root, nil
}

// findDataChild resolves a data child by name, looking through choice
// and case layers, which never appear in paths.
func findDataChild(parent *schema.SchemaObject, name string) *schema.SchemaObject {
	for _, c := range parent.Children {
		switch c.Kind {
		case schema.Choice:
			for _, cs := range c.Children {
				if m := findDataChild(cs, name); m != nil {
					return m
				}
			}
		default:
			if c.Name == name {
				return c
			}
		}
	}
	return nil
}

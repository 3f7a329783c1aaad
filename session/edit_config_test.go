// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danos/confd/schema"
	"github.com/danos/confd/sil"
)

func editSchema(t *testing.T) *schema.SchemaObject {
	t.Helper()
	root := schema.NewRoot()
	system := root.AddChild(schema.NewObject("test", "system", schema.Container))
	system.AddChild(schema.NewObject("test", "hostname", schema.Leaf))
	users := schema.NewObject("test", "users", schema.List)
	users.Keys = []string{"id"}
	root.AddChild(users)
	users.AddChild(schema.NewObject("test", "id", schema.Leaf))
	users.AddChild(schema.NewObject("test", "name", schema.Leaf))
	proto := root.AddChild(schema.NewObject("test", "proto", schema.Choice))
	tcp := proto.AddChild(schema.NewObject("test", "tcp-case", schema.Case))
	tcp.AddChild(schema.NewObject("test", "tcp", schema.Leaf))
	return root
}

func TestBuildPathEditLeaf(t *testing.T) {
	sr := editSchema(t)
	root, err := BuildPathEdit(sr, []string{"system", "hostname", "r1"}, sil.OpMerge)
	require.NoError(t, err)

	system := root.FindChild("test", "system")
	require.NotNil(t, system)
	require.Equal(t, sil.OpNone, system.EditOp)

	host := system.FindChild("test", "hostname")
	require.NotNil(t, host)
	require.Equal(t, "r1", host.Scalar)
	require.Equal(t, sil.OpMerge, host.EditOp)
}

func TestBuildPathEditListEntry(t *testing.T) {
	sr := editSchema(t)
	root, err := BuildPathEdit(sr, []string{"users", "7", "name", "alice"}, sil.OpMerge)
	require.NoError(t, err)

	entry := root.FindChild("test", "users")
	require.NotNil(t, entry)
	require.Equal(t, "7", entry.FindChild("test", "id").Scalar)
	require.Equal(t, "alice", entry.FindChild("test", "name").Scalar)
}

func TestBuildPathEditDeleteNeedsNoValue(t *testing.T) {
	sr := editSchema(t)
	root, err := BuildPathEdit(sr, []string{"system", "hostname"}, sil.OpDelete)
	require.NoError(t, err)

	host := root.FindChild("test", "system").FindChild("test", "hostname")
	require.Equal(t, sil.OpDelete, host.EditOp)
}

func TestBuildPathEditThroughChoice(t *testing.T) {
	sr := editSchema(t)
	root, err := BuildPathEdit(sr, []string{"tcp", "80"}, sil.OpMerge)
	require.NoError(t, err)

	tcp := root.FindChild("test", "tcp")
	require.NotNil(t, tcp)
	require.Equal(t, "80", tcp.Scalar)
}

func TestBuildPathEditErrors(t *testing.T) {
	sr := editSchema(t)

	_, err := BuildPathEdit(sr, []string{"no-such"}, sil.OpMerge)
	require.Error(t, err)

	// A set of a leaf without a value is rejected.
	_, err = BuildPathEdit(sr, []string{"system", "hostname"}, sil.OpMerge)
	require.Error(t, err)

	// A list path without its key is rejected.
	_, err = BuildPathEdit(sr, []string{"users"}, sil.OpCreate)
	require.Error(t, err)
}

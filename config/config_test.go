// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsStandWithoutFile(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "confd", c.User)
	require.Equal(t, uint32(600), c.ConfirmedTimeout)
	require.False(t, c.WithStartup)
}

func TestMissingFileIsNotAnError(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.conf"))
	require.NoError(t, err)
	require.Equal(t, "/run/confd/main.sock", c.Socket)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "confd.conf")
	content := `[confd]
user = operator
socket = /tmp/test.sock
confirmedtimeout = 120
withstartup = true
debug = commit
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "operator", c.User)
	require.Equal(t, "/tmp/test.sock", c.Socket)
	require.Equal(t, uint32(120), c.ConfirmedTimeout)
	require.True(t, c.WithStartup)
	require.Equal(t, "commit", c.Debug)
	// Untouched keys keep their defaults.
	require.Equal(t, "/run/confd/confd.pid", c.Pidfile)
}

// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package confd

import (
	"log"
	"log/syslog"
	"os"
	"path/filepath"

	"github.com/danos/confd/acm"
	"github.com/danos/confd/config"
)

// SystemSession is the session id the daemon itself acts under for
// boot-time loads and timer-driven work.
const SystemSession uint32 = 1

// Context carries the authenticated identity and environment of one
// connection through the dispatcher and session layers.
type Context struct {
	Confd     bool
	Pid       int32
	Uid       uint32
	User      string
	UserHome  string
	Groups    []string
	Superuser bool
	Config    *config.Config
	Dlog      *log.Logger
	Elog      *log.Logger
	Wlog      *log.Logger
}

// Raising privileges should be done sparingly as it bypasses things
// like ACM and secret redaction, however it is occasionally necessary.
func (c *Context) RaisePrivileges() {
	c.Confd = true
}

func (c *Context) DropPrivileges() {
	c.Confd = false
}

// AcmSession derives the engine-facing session identity from the
// connection context. The connecting pid doubles as the session id.
func (c *Context) AcmSession() acm.Session {
	return acm.Session{
		Id:        uint32(c.Pid),
		User:      c.User,
		Groups:    c.Groups,
		Superuser: c.Superuser || c.Confd,
	}
}

// NewLogger is a version of syslog.NewLogger which uses the base
// program name as the logging tag.
func NewLogger(p syslog.Priority, logFlag int) (*log.Logger, error) {
	tag := filepath.Base(os.Args[0])
	s, err := syslog.New(p, tag)
	if err != nil {
		return nil, err
	}
	return log.New(s, "", logFlag), nil
}

func InSecretsGroup(ctx *Context) bool {
	if ctx.Confd {
		return true
	}
	for _, g := range ctx.Groups {
		if g == ctx.Config.SecretsGroup {
			return true
		}
	}
	return false
}

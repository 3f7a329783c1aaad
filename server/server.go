// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"log/syslog"
	"net"
	"os/user"
	"reflect"
	"strconv"
	"sync"
	"time"
	"unicode"

	"github.com/danos/confd"
	"github.com/danos/confd/config"
	"github.com/danos/confd/engine"
	"github.com/danos/confd/session"
)

type Srv struct {
	*net.UnixListener
	eng    *engine.Engine
	m      map[string]reflect.Method
	smgr   *session.SessionMgr
	uid    uint32
	Dlog   *log.Logger
	Elog   *log.Logger
	Wlog   *log.Logger
	Config *config.Config
}

func NewSrv(
	l *net.UnixListener,
	eng *engine.Engine,
	username string,
	cfg *config.Config,
	elog *log.Logger,
) *Srv {
	dlog, err := confd.NewLogger(syslog.LOG_DEBUG|syslog.LOG_DAEMON, 0)
	if err != nil {
		elog.Println(err)
		dlog = log.New(ioutil.Discard, "", 0)
	}

	wlog, err := confd.NewLogger(syslog.LOG_WARNING|syslog.LOG_DAEMON, 0)
	if err != nil {
		elog.Println(err)
		wlog = log.New(ioutil.Discard, "", 0)
	}

	var uid uint64
	if u, err := user.Lookup(username); err == nil {
		uid, _ = strconv.ParseUint(u.Uid, 10, 32)
	}

	s := &Srv{
		UnixListener: l,
		eng:          eng,
		m:            make(map[string]reflect.Method),
		smgr:         session.NewSessionMgrCustomLog(elog),
		uid:          uint32(uid),
		Dlog:         dlog,
		Elog:         elog,
		Wlog:         wlog,
		Config:       cfg,
	}

	t := reflect.TypeOf(new(Disp))
	for m := 0; m < t.NumMethod(); m++ {
		meth := t.Method(m)
		ftype := meth.Func.Type()
		if unicode.IsLower(rune(meth.Name[0])) {
			//only exported methods
			continue
		}
		if ftype.NumOut() != 2 {
			//with 2 return values
			continue
		}
		if ftype.Out(1).Name() != "error" {
			//whose second return value is an error
			continue
		}

		s.m[meth.Name] = meth
	}
	return s
}

// Serve is the server main loop. It accepts connections and spawns a
// goroutine to handle that connection.
func (s *Srv) Serve() error {
	var err error
	for {
		conn, err := s.AcceptUnix()
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Temporary() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			s.LogError(err)
			break
		}
		sconn := s.NewConn(conn)

		go sconn.Handle()
	}
	return err
}

// NewConn creates a new SrvConn and returns a reference to it.
func (s *Srv) NewConn(conn *net.UnixConn) *SrvConn {
	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)
	c := &SrvConn{
		UnixConn: conn,
		srv:      s,
		uid:      0,
		enc:      enc,
		dec:      dec,
		sending:  new(sync.Mutex),
	}
	return c
}

// Log is a common place to do logging so that the implementation may
// change in the future.
func (d *Srv) Log(fmt string, v ...interface{}) {
	d.Dlog.Printf(fmt, v...)
}

// LogError logs an error if the passed in value is non nil
func (d *Srv) LogError(err error) {
	if err != nil {
		d.Elog.Printf("%s", err)
	}
}

func (d *Srv) LogFatal(err error) {
	if err != nil {
		d.Elog.Fatal(err)
	}
}

// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"io/ioutil"
	"log"
	"log/syslog"
	"sync"

	"github.com/danos/confd"
	"github.com/danos/confd/engine"
	"github.com/danos/confd/mgmterror"
)

// Session manager is a monitor that provides access to the shared
// session state. All methods must be protected by Mutex
type SessionMgr struct {
	mu       *sync.RWMutex
	sessions map[string]*Session
	Elog     *log.Logger
}

func NewSessionMgr() *SessionMgr {
	elog, err := syslog.NewLogger(syslog.LOG_ERR|syslog.LOG_DAEMON, 0)
	if err != nil {
		elog = log.New(ioutil.Discard, "", 0)
	}

	return NewSessionMgrCustomLog(elog)
}

func NewSessionMgrCustomLog(elog *log.Logger) *SessionMgr {
	return &SessionMgr{
		mu:       &sync.RWMutex{},
		sessions: make(map[string]*Session),
		Elog:     elog,
	}
}

// Internal unprotected function, reduces lock pressure
func (mgr *SessionMgr) get(sid string) (*Session, error) {
	sess, ok := mgr.sessions[sid]
	if !ok {
		return nil, mgmterror.NewOperationFailedError(
			"session " + sid + " does not exist")
	}
	return sess, nil
}

func (mgr *SessionMgr) Get(_ *confd.Context, sid string) (*Session, error) {
	if mgr == nil {
		return nil, nilSessionMgrError()
	}
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.get(sid)
}

func (mgr *SessionMgr) create(ctx *confd.Context, sid string, eng *engine.Engine) (*Session, error) {
	sess, ok := mgr.sessions[sid]
	if ok {
		return sess, nil
	}

	sess = NewSession(sid, eng)
	mgr.sessions[sid] = sess
	return sess, nil
}

func (mgr *SessionMgr) Create(ctx *confd.Context, sid string, eng *engine.Engine) (*Session, error) {
	if mgr == nil {
		return nil, nilSessionMgrError()
	}
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.create(ctx, sid, eng)
}

func (mgr *SessionMgr) destroy(ctx *confd.Context, sid string) error {
	sess, ok := mgr.sessions[sid]
	if ok {
		delete(mgr.sessions, sid)
		go sess.Kill()
	}
	return nil
}

func (mgr *SessionMgr) Destroy(ctx *confd.Context, sid string) error {
	if mgr == nil {
		return nilSessionMgrError()
	}
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.destroy(ctx, sid)
}

// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"github.com/danos/confd"
	"github.com/danos/confd/confirm"
	"github.com/danos/confd/datastore"
	"github.com/danos/confd/engine"
	"github.com/danos/confd/rpc"
	"github.com/danos/confd/sil"
)

// Session is one client's view of the engine. Requests are funnelled
// through a per-session goroutine so each session's operations are
// serialised even when the owning connection misbehaves.
type Session struct {
	s session
}

type SessionOption func(*session)

func NewSession(sid string, eng *engine.Engine, options ...SessionOption) *Session {
	s := &Session{
		s: session{
			sid:   sid,
			eng:   eng,
			reqch: make(chan request),
			kill:  make(chan struct{}),
			term:  make(chan struct{}),
		},
	}

	for _, option := range options {
		option(&s.s)
	}

	go s.s.run()
	return s
}

// Set merges a value at path into candidate. The final path element of
// a leaf path is the value.
func (s *Session) Set(ctx *confd.Context, path []string) error {
	respch := make(chan error)
	req := &editreq{
		ctx:  ctx,
		path: path,
		op:   sil.OpMerge,
		resp: respch,
	}
	select {
	case s.s.reqch <- req:
		return <-respch
	case <-s.s.term:
	}
	return sessTermError()
}

// Delete removes the node at path from candidate.
func (s *Session) Delete(ctx *confd.Context, path []string) error {
	respch := make(chan error)
	req := &editreq{
		ctx:  ctx,
		path: path,
		op:   sil.OpDelete,
		resp: respch,
	}
	select {
	case s.s.reqch <- req:
		return <-respch
	case <-s.s.term:
	}
	return sessTermError()
}

// EditConfig applies a structured edit tree, as produced by a wire
// codec, against target.
func (s *Session) EditConfig(ctx *confd.Context, target rpc.DB, defop sil.Op, edit *datastore.Value) error {
	respch := make(chan error)
	req := &editconfigreq{
		ctx:    ctx,
		target: target,
		defop:  defop,
		edit:   edit,
		resp:   respch,
	}
	select {
	case s.s.reqch <- req:
		return <-respch
	case <-s.s.term:
	}
	return sessTermError()
}

func (s *Session) Exists(ctx *confd.Context, db rpc.DB, path []string) bool {
	respch := make(chan bool)
	req := &existsreq{
		ctx:  ctx,
		db:   db,
		path: path,
		resp: respch,
	}
	select {
	case s.s.reqch <- req:
		return <-respch
	case <-s.s.term:
	}
	return false
}

func (s *Session) Get(ctx *confd.Context, db rpc.DB, path []string) ([]string, error) {
	respch := make(chan getresp)
	req := &getreq{
		ctx:  ctx,
		db:   db,
		path: path,
		resp: respch,
	}
	select {
	case s.s.reqch <- req:
		resp := <-respch
		return resp.vals, resp.err
	case <-s.s.term:
	}
	return nil, sessTermError()
}

func (s *Session) IsDefault(ctx *confd.Context, db rpc.DB, path []string) (bool, error) {
	respch := make(chan defaultresp)
	req := &defaultreq{
		ctx:  ctx,
		db:   db,
		path: path,
		resp: respch,
	}
	select {
	case s.s.reqch <- req:
		resp := <-respch
		return resp.val, resp.err
	case <-s.s.term:
	}
	return false, sessTermError()
}

func (s *Session) Show(ctx *confd.Context, db rpc.DB, path []string, showDefaults bool) (string, error) {
	respch := make(chan showresp)
	req := &showreq{
		ctx:          ctx,
		db:           db,
		path:         path,
		showDefaults: showDefaults,
		resp:         respch,
	}
	select {
	case s.s.reqch <- req:
		resp := <-respch
		return resp.data, resp.err
	case <-s.s.term:
	}
	return "", sessTermError()
}

func (s *Session) Changed(ctx *confd.Context) bool {
	respch := make(chan bool)
	req := &changedreq{
		ctx:  ctx,
		resp: respch,
	}
	select {
	case s.s.reqch <- req:
		return <-respch
	case <-s.s.term:
	}
	return false
}

// Commit promotes candidate into running. opts carries any
// confirmed-commit arguments; nil means a plain commit.
func (s *Session) Commit(ctx *confd.Context, message string, opts *confirm.Options) error {
	respch := make(chan error)
	req := &commitreq{
		ctx:     ctx,
		message: message,
		opts:    opts,
		resp:    respch,
	}
	select {
	case s.s.reqch <- req:
		return <-respch
	case <-s.s.term:
	}
	return sessTermError()
}

// CancelCommit reverts an outstanding confirmed commit immediately.
func (s *Session) CancelCommit(ctx *confd.Context) error {
	respch := make(chan error)
	req := &commitreq{
		ctx:    ctx,
		revert: true,
		resp:   respch,
	}
	select {
	case s.s.reqch <- req:
		return <-respch
	case <-s.s.term:
	}
	return sessTermError()
}

func (s *Session) Validate(ctx *confd.Context) error {
	respch := make(chan error)
	req := &validatereq{
		ctx:  ctx,
		resp: respch,
	}
	select {
	case s.s.reqch <- req:
		return <-respch
	case <-s.s.term:
	}
	return sessTermError()
}

func (s *Session) Discard(ctx *confd.Context) error {
	respch := make(chan error)
	req := &discardreq{
		ctx:  ctx,
		resp: respch,
	}
	select {
	case s.s.reqch <- req:
		return <-respch
	case <-s.s.term:
	}
	return sessTermError()
}

func (s *Session) Lock(ctx *confd.Context, db rpc.DB) error {
	respch := make(chan error)
	req := &lockreq{
		ctx:  ctx,
		db:   db,
		resp: respch,
	}
	select {
	case s.s.reqch <- req:
		return <-respch
	case <-s.s.term:
	}
	return sessTermError()
}

func (s *Session) Unlock(ctx *confd.Context, db rpc.DB) error {
	respch := make(chan error)
	req := &unlockreq{
		ctx:  ctx,
		db:   db,
		resp: respch,
	}
	select {
	case s.s.reqch <- req:
		return <-respch
	case <-s.s.term:
	}
	return sessTermError()
}

// Locked returns the session id holding the global lock, or 0.
func (s *Session) Locked(ctx *confd.Context, db rpc.DB) (uint32, error) {
	respch := make(chan lockedresp)
	req := &lockedreq{
		ctx:  ctx,
		db:   db,
		resp: respch,
	}
	select {
	case s.s.reqch <- req:
		resp := <-respch
		return resp.owner, resp.err
	case <-s.s.term:
	}
	return 0, sessTermError()
}

// PartialLock takes an RFC 5717 subtree lock on running, returning the
// lock id.
func (s *Session) PartialLock(ctx *confd.Context, selects []string) (uint32, error) {
	respch := make(chan plockresp)
	req := &plockreq{
		ctx:     ctx,
		selects: selects,
		resp:    respch,
	}
	select {
	case s.s.reqch <- req:
		resp := <-respch
		return resp.id, resp.err
	case <-s.s.term:
	}
	return 0, sessTermError()
}

func (s *Session) PartialUnlock(ctx *confd.Context, id uint32) error {
	respch := make(chan error)
	req := &punlockreq{
		ctx:  ctx,
		id:   id,
		resp: respch,
	}
	select {
	case s.s.reqch <- req:
		return <-respch
	case <-s.s.term:
	}
	return sessTermError()
}

func (s *Session) Kill() {
	s.s.kill <- struct{}{}
}

// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"context"

	"github.com/danos/confd"
	"github.com/danos/confd/confirm"
	"github.com/danos/confd/datastore"
	"github.com/danos/confd/engine"
	"github.com/danos/confd/rpc"
	"github.com/danos/confd/sil"
	"github.com/danos/confd/txn"
)

type request interface {
	handle(s *session)
}

type session struct {
	sid   string
	eng   *engine.Engine
	reqch chan request
	kill  chan struct{}
	term  chan struct{}
}

// run is the session actor: one request at a time until killed.
func (s *session) run() {
	for {
		select {
		case req := <-s.reqch:
			req.handle(s)
		case <-s.kill:
			close(s.term)
			return
		}
	}
}

type editreq struct {
	ctx  *confd.Context
	path []string
	op   sil.Op
	resp chan error
}

func (r *editreq) handle(s *session) {
	edit, err := BuildPathEdit(s.eng.SchemaRoot, r.path, r.op)
	if err != nil {
		r.resp <- err
		return
	}
	_, err = s.eng.EditConfig(context.Background(), r.ctx.AcmSession(),
		datastore.Candidate, sil.OpNone, edit, engine.EditOpts{
			EditType: txn.EditPartial,
		})
	r.resp <- err
}

type editconfigreq struct {
	ctx    *confd.Context
	target rpc.DB
	defop  sil.Op
	edit   *datastore.Value
	resp   chan error
}

func (r *editconfigreq) handle(s *session) {
	rootcheck := r.target == rpc.RUNNING
	_, err := s.eng.EditConfig(context.Background(), r.ctx.AcmSession(),
		r.target.ToDatastore(), r.defop, r.edit, engine.EditOpts{
			EditType:  txn.EditPartial,
			Rootcheck: rootcheck,
		})
	r.resp <- err
}

type existsreq struct {
	ctx  *confd.Context
	db   rpc.DB
	path []string
	resp chan bool
}

func (r *existsreq) handle(s *session) {
	r.resp <- s.eng.Exists(r.ctx.AcmSession(), r.db.ToDatastore(), r.path)
}

type getresp struct {
	vals []string
	err  error
}

type getreq struct {
	ctx  *confd.Context
	db   rpc.DB
	path []string
	resp chan getresp
}

func (r *getreq) handle(s *session) {
	vals, err := s.eng.Get(r.ctx.AcmSession(), r.db.ToDatastore(), r.path)
	r.resp <- getresp{vals: vals, err: err}
}

type defaultresp struct {
	val bool
	err error
}

type defaultreq struct {
	ctx  *confd.Context
	db   rpc.DB
	path []string
	resp chan defaultresp
}

func (r *defaultreq) handle(s *session) {
	val, err := s.eng.IsDefault(r.ctx.AcmSession(), r.db.ToDatastore(), r.path)
	r.resp <- defaultresp{val: val, err: err}
}

type showresp struct {
	data string
	err  error
}

type showreq struct {
	ctx          *confd.Context
	db           rpc.DB
	path         []string
	showDefaults bool
	resp         chan showresp
}

func (r *showreq) handle(s *session) {
	data, err := s.eng.Show(r.ctx.AcmSession(), r.db.ToDatastore(), r.path,
		r.showDefaults)
	r.resp <- showresp{data: data, err: err}
}

type changedreq struct {
	ctx  *confd.Context
	resp chan bool
}

func (r *changedreq) handle(s *session) {
	r.resp <- s.eng.Changed()
}

type commitreq struct {
	ctx     *confd.Context
	message string
	opts    *confirm.Options
	revert  bool
	resp    chan error
}

func (r *commitreq) handle(s *session) {
	_, err := s.eng.Commit(context.Background(), r.ctx.AcmSession(),
		engine.CommitOpts{
			Confirm: r.opts,
			Comment: r.message,
			Revert:  r.revert,
		})
	r.resp <- err
}

type validatereq struct {
	ctx  *confd.Context
	resp chan error
}

func (r *validatereq) handle(s *session) {
	r.resp <- s.eng.Validate(context.Background(), r.ctx.AcmSession())
}

type discardreq struct {
	ctx  *confd.Context
	resp chan error
}

func (r *discardreq) handle(s *session) {
	r.resp <- s.eng.Discard(r.ctx.AcmSession())
}

type lockreq struct {
	ctx  *confd.Context
	db   rpc.DB
	resp chan error
}

func (r *lockreq) handle(s *session) {
	r.resp <- s.eng.Lock(r.ctx.AcmSession(), r.db.ToDatastore())
}

type unlockreq struct {
	ctx  *confd.Context
	db   rpc.DB
	resp chan error
}

func (r *unlockreq) handle(s *session) {
	r.resp <- s.eng.Unlock(r.ctx.AcmSession(), r.db.ToDatastore())
}

type lockedresp struct {
	owner uint32
	err   error
}

type lockedreq struct {
	ctx  *confd.Context
	db   rpc.DB
	resp chan lockedresp
}

func (r *lockedreq) handle(s *session) {
	ds := s.eng.Datastore(r.db.ToDatastore())
	r.resp <- lockedresp{owner: ds.Locks.Locked()}
}

type plockresp struct {
	id  uint32
	err error
}

type plockreq struct {
	ctx     *confd.Context
	selects []string
	resp    chan plockresp
}

func (r *plockreq) handle(s *session) {
	pl, err := s.eng.PartialLock(r.ctx.AcmSession(), r.selects)
	if err != nil {
		r.resp <- plockresp{err: err}
		return
	}
	r.resp <- plockresp{id: pl.Id}
}

type punlockreq struct {
	ctx  *confd.Context
	id   uint32
	resp chan error
}

func (r *punlockreq) handle(s *session) {
	r.resp <- s.eng.PartialUnlock(r.ctx.AcmSession(), r.id)
}

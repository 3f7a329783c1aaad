// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"context"
	"strconv"
	"strings"

	"github.com/danos/confd"
	"github.com/danos/confd/common"
	"github.com/danos/confd/confirm"
	"github.com/danos/confd/engine"
	"github.com/danos/confd/mgmterror"
	"github.com/danos/confd/rpc"
	"github.com/danos/confd/session"
	"github.com/danos/confd/sil"
)

// Disp is the per-connection RPC surface: every exported method with
// an (T, error) signature is callable by name over the socket.
type Disp struct {
	eng  *engine.Engine
	smgr *session.SessionMgr
	ctx  *confd.Context
}

// makepath splits a "/"-separated path string into elements.
func makepath(path string) []string {
	var ps []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			ps = append(ps, p)
		}
	}
	return ps
}

func (d *Disp) SessionExists(sid string) (bool, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return false, nil
	}
	return sess != nil, nil
}

func (d *Disp) SessionSetup(sid string) (bool, error) {
	_, err := d.smgr.Create(d.ctx, sid, d.eng)
	return err == nil, err
}

func (d *Disp) SessionTeardown(sid string) (bool, error) {
	err := d.smgr.Destroy(d.ctx, sid)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *Disp) SessionChanged(sid string) (bool, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return false, err
	}
	return sess.Changed(d.ctx), nil
}

func (d *Disp) Set(sid string, path string) (string, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return "", err
	}
	if err := sess.Set(d.ctx, makepath(path)); err != nil {
		return "", err
	}
	return "", nil
}

func (d *Disp) Delete(sid string, path string) (bool, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return false, err
	}
	if err := sess.Delete(d.ctx, makepath(path)); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Disp) Get(db rpc.DB, sid string, path string) ([]string, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return nil, err
	}
	return sess.Get(d.ctx, db, makepath(path))
}

func (d *Disp) Exists(db rpc.DB, sid string, path string) (bool, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return false, err
	}
	return sess.Exists(d.ctx, db, makepath(path)), nil
}

func (d *Disp) IsDefault(db rpc.DB, sid string, path string) (bool, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return false, err
	}
	return sess.IsDefault(d.ctx, db, makepath(path))
}

func (d *Disp) Show(db rpc.DB, sid string, path string) (string, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return "", err
	}
	return sess.Show(d.ctx, db, makepath(path), false)
}

func (d *Disp) ShowDefaults(db rpc.DB, sid string, path string) (string, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return "", err
	}
	return sess.Show(d.ctx, db, makepath(path), true)
}

func (d *Disp) Commit(sid string, message string, debug bool) (string, error) {
	if common.LoggingIsEnabledAtLevel(common.LevelDebug, common.TypeCommit) ||
		debug {
		d.ctx.Dlog.Printf("commit requested by session %s", sid)
	}
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return "", err
	}
	if err := sess.Commit(d.ctx, message, nil); err != nil {
		return "", err
	}
	return "", nil
}

func (d *Disp) ConfirmedCommit(
	sid string,
	message string,
	confirmed bool,
	timeout string,
	persist string,
	persistid string,
	debug bool,
) (string, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return "", err
	}
	opts, err := newCommitOptions(confirmed, timeout, persist, persistid)
	if err != nil {
		return "", err
	}
	if err := sess.Commit(d.ctx, message, opts); err != nil {
		return "", err
	}
	return "", nil
}

// Confirm finalises an outstanding confirmed commit for this session.
func (d *Disp) Confirm(sid string) (string, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return "", err
	}
	// A plain commit with no changes pending confirms; the engine's
	// decision table handles ownership. Empty options, not nil: nil is
	// the CLI commit that an outstanding confirmed commit blocks.
	if err := sess.Commit(d.ctx, "", &confirm.Options{}); err != nil {
		return "", err
	}
	return "", nil
}

func (d *Disp) CancelCommit(sid, comment, persistid string, force, debug bool) (string, error) {
	if !force && !d.eng.Confirm.Active() {
		return "", mgmterror.NewOperationFailedError("No confirmed commit pending")
	}
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return "", err
	}
	if err := sess.CancelCommit(d.ctx); err != nil {
		return "", err
	}
	return "", nil
}

func (d *Disp) Validate(sid string) (string, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return "", err
	}
	if err := sess.Validate(d.ctx); err != nil {
		return "", err
	}
	return "", nil
}

func (d *Disp) Discard(sid string) (bool, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return false, err
	}
	if err := sess.Discard(d.ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Disp) Lock(db rpc.DB, sid string) (int32, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return -1, err
	}
	if err := sess.Lock(d.ctx, db); err != nil {
		return -1, err
	}
	return d.ctx.Pid, nil
}

func (d *Disp) Unlock(db rpc.DB, sid string) (int32, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return -1, err
	}
	if err := sess.Unlock(d.ctx, db); err != nil {
		return -1, err
	}
	return d.ctx.Pid, nil
}

func (d *Disp) Locked(db rpc.DB, sid string) (int32, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return -1, err
	}
	owner, err := sess.Locked(d.ctx, db)
	if err != nil {
		return -1, err
	}
	return int32(owner), nil
}

// PartialLock takes an RFC 5717 subtree lock on running over the given
// select expressions, returning the lock id.
func (d *Disp) PartialLock(sid string, selects []interface{}) (int, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return 0, err
	}
	strs := make([]string, 0, len(selects))
	for _, s := range selects {
		str, ok := s.(string)
		if !ok {
			return 0, mgmterror.NewInvalidValueError("select must be a string")
		}
		strs = append(strs, str)
	}
	id, err := sess.PartialLock(d.ctx, strs)
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

func (d *Disp) PartialUnlock(sid string, lockid int) (bool, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return false, err
	}
	if err := sess.PartialUnlock(d.ctx, uint32(lockid)); err != nil {
		return false, err
	}
	return true, nil
}

// EditConfigPath runs a single-path edit-config against a datastore
// with an explicit operation, the path form of <edit-config> for
// callers without an XML codec.
func (d *Disp) EditConfigPath(sid string, target string, operation string, path string) (string, error) {
	sess, err := d.smgr.Get(d.ctx, sid)
	if err != nil {
		return "", err
	}
	db, err := dbByName(target)
	if err != nil {
		return "", err
	}
	op, err := opByName(operation)
	if err != nil {
		return "", err
	}
	edit, err := session.BuildPathEdit(d.eng.SchemaRoot, makepath(path), op)
	if err != nil {
		return "", err
	}
	if err := sess.EditConfig(d.ctx, db, sil.OpNone, edit); err != nil {
		return "", err
	}
	return "", nil
}

// CopyConfig copies one whole datastore over another.
func (d *Disp) CopyConfig(sid string, source string, target string) (bool, error) {
	src, err := dbByName(source)
	if err != nil {
		return false, err
	}
	dst, err := dbByName(target)
	if err != nil {
		return false, err
	}
	_, err = d.eng.CopyConfig(context.Background(), d.ctx.AcmSession(),
		src.ToDatastore(), dst.ToDatastore())
	if err != nil {
		return false, err
	}
	return true, nil
}

// Save copies running into startup.
func (d *Disp) Save(sid string) (bool, error) {
	return d.CopyConfig(sid, "running", "startup")
}

func (d *Disp) SetConfigDebug(sid, logName, level string) (string, error) {
	return common.SetConfigDebug(logName, level)
}

func dbByName(name string) (rpc.DB, error) {
	switch strings.ToLower(name) {
	case "running":
		return rpc.RUNNING, nil
	case "candidate":
		return rpc.CANDIDATE, nil
	case "startup":
		return rpc.STARTUP, nil
	}
	return rpc.AUTO, mgmterror.NewInvalidValueError("unknown datastore " + name)
}

func opByName(name string) (sil.Op, error) {
	switch strings.ToLower(name) {
	case "merge":
		return sil.OpMerge, nil
	case "replace":
		return sil.OpReplace, nil
	case "create":
		return sil.OpCreate, nil
	case "delete":
		return sil.OpDelete, nil
	case "remove":
		return sil.OpRemove, nil
	}
	return sil.OpNone, mgmterror.NewInvalidValueError("unknown operation " + name)
}

// sessionTermination releases everything the connection's sessions
// hold when it goes away.
func (d *Disp) sessionTermination() error {
	d.eng.SessionExit(d.ctx.AcmSession())
	return d.smgr.Destroy(d.ctx, strconv.Itoa(int(d.ctx.Pid)))
}

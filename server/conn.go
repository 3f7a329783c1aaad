// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"encoding/json"
	"io"
	"net"
	"os/user"
	"reflect"
	"strconv"
	"sync"
	"syscall"

	"github.com/danos/confd"
	"github.com/danos/confd/mgmterror"
	"github.com/danos/confd/rpc"
)

type any interface{}

func newResponse(result any, err error, id int) *rpc.Response {
	var resp rpc.Response
	if err != nil {
		switch val := err.(type) {
		case *mgmterror.List:
			resp = rpc.Response{Error: val.Error(), Errors: wireErrors(val.Errors), Id: id}
		case *mgmterror.Error:
			resp = rpc.Response{Error: val.Error(),
				Errors: wireErrors([]*mgmterror.Error{val}), Id: id}
		default:
			resp = rpc.Response{Error: err.Error(), Id: id}
		}
	} else {
		resp = rpc.Response{Result: result, Id: id}
	}
	return &resp
}

func wireErrors(errs []*mgmterror.Error) []rpc.RpcError {
	out := make([]rpc.RpcError, 0, len(errs))
	for _, e := range errs {
		out = append(out, rpc.RpcError{
			Tag:     e.Tag,
			Layer:   e.Layer.String(),
			Path:    e.Path,
			Message: e.Message,
			Info:    e.Info,
		})
	}
	return out
}

type SrvConn struct {
	*net.UnixConn
	srv     *Srv
	uid     uint32
	cred    *syscall.Ucred
	enc     *json.Encoder
	dec     *json.Decoder
	sending *sync.Mutex
}

// Send an rpc response with appropriate data or an error
func (conn *SrvConn) sendResponse(resp *rpc.Response) error {
	conn.sending.Lock()
	err := conn.enc.Encode(&resp)
	conn.sending.Unlock()
	return err

}

// Receive an rpc request and do some preprocessing.
func (conn *SrvConn) readRequest() (*rpc.Request, error) {
	var req = new(rpc.Request)
	err := conn.dec.Decode(req)
	if err != nil {
		return nil, err
	}

	return req, nil
}

// Grab the credentials off of the unix socket using SO_PEERCRED and
// store them in the SrvConn
func (conn *SrvConn) getCreds() (*syscall.Ucred, error) {
	uf, err := conn.File()
	if err != nil {
		return nil, err
	}
	cred, err := syscall.GetsockoptUcred(
		int(uf.Fd()),
		syscall.SOL_SOCKET,
		syscall.SO_PEERCRED)
	uf.Close()
	if err != nil {
		conn.srv.LogError(err)
		return nil, err
	}

	return cred, nil
}

// Handle is the main loop for a connection. It receives the requests,
// authorizes the request, calls the request method and returns the
// response to the client.
func (conn *SrvConn) Handle() {

	cred, err := conn.getCreds()
	if err != nil {
		conn.srv.LogError(err)
		conn.Close()
		return
	}
	conn.cred = cred

	disp := &Disp{
		eng:  conn.srv.eng,
		smgr: conn.srv.smgr,
		ctx: &confd.Context{
			Confd:     cred.Uid == conn.srv.uid,
			Uid:       cred.Uid,
			Pid:       cred.Pid,
			Groups:    make([]string, 0),
			Superuser: cred.Uid == 0,
			Config:    conn.srv.Config,
			Elog:      conn.srv.Elog,
			Dlog:      conn.srv.Dlog,
			Wlog:      conn.srv.Wlog,
		},
	}

	//Group lookup is expensive, do it once per connection.
	u, err := user.LookupId(strconv.Itoa(int(cred.Uid)))
	if err != nil {
		conn.srv.LogError(err)
		conn.Close()
		return
	}
	disp.ctx.User = u.Username
	disp.ctx.UserHome = u.HomeDir
	if gids, err := u.GroupIds(); err == nil {
		haveSuperGroup := conn.srv.Config.SuperGroup != ""
		for _, gid := range gids {
			g, err := user.LookupGroupId(gid)
			if err != nil {
				continue
			}
			disp.ctx.Groups = append(disp.ctx.Groups, g.Name)
			if haveSuperGroup && g.Name == conn.srv.Config.SuperGroup {
				disp.ctx.Superuser = true
			}
		}
	}

	for {
		req, err := conn.readRequest()
		if err != nil {
			if err != io.EOF {
				conn.srv.LogError(err)
			}
			break
		}

		result, err := conn.Call(disp, req.Method, req.Args)
		err = conn.sendResponse(newResponse(result, err, req.Id))
		if err != nil {
			break
		}
	}
	if err = disp.sessionTermination(); err != nil {
		conn.srv.LogError(err)
	}
	conn.Close()
	return
}

func (conn *SrvConn) Call(
	disp *Disp,
	method string,
	args []interface{},
) (any, error) {

	m, ok := conn.srv.m[method]
	if !ok {
		return nil, &rpc.MethErr{Name: method}
	}

	typ := m.Func.Type()

	//Number of args are equal?
	if len(args) != typ.NumIn()-1 {
		return nil, &rpc.ArgNErr{Method: method, Len: len(args), Elen: typ.NumIn() - 1}
	}

	//validate arguments
	//prepending the first argument *Disp
	vals := make([]reflect.Value, len(args)+1)
	vals[0] = reflect.ValueOf(disp)
	for i, v := range args {
		t1 := reflect.TypeOf(v)
		t2 := typ.In(i + 1)
		if t1 != t2 {
			if !t1.ConvertibleTo(t2) {
				return nil, &rpc.ArgErr{Method: method, Farg: v, Typ: t1.Name(), Etyp: t2.Name()}
			}
			vals[i+1] = reflect.ValueOf(v).Convert(t2)
		} else {
			vals[i+1] = reflect.ValueOf(v)
		}
	}

	//call the function
	rets := m.Func.Call(vals)
	err, ok := rets[1].Interface().(error)
	if ok {
		return rets[0].Interface(), err
	}

	return rets[0].Interface(), nil
}

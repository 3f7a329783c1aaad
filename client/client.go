// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/danos/confd/rpc"
)

type Client struct {
	conn net.Conn
	sid  string
	enc  *json.Encoder
	dec  *json.Decoder
	id   int
}

func Dial(network, address, sid string) (*Client, error) {
	c, e := net.Dial(network, address)
	if e != nil {
		return nil, e
	}

	client := &Client{
		conn: c,
		enc:  json.NewEncoder(c),
		dec:  json.NewDecoder(c),
		id:   0,
		sid:  sid,
	}

	return client, nil
}

func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	c.conn.Close()
}

func (c *Client) call(method string, args ...interface{}) (interface{}, error) {
	var rep rpc.Response
	c.id++
	c.enc.Encode(&rpc.Request{Method: method, Args: args, Id: c.id})
	c.dec.Decode(&rep)
	if err, ok := rep.Error.(string); ok && err != "" {
		if len(rep.Errors) > 0 {
			msgs := make([]string, 0, len(rep.Errors))
			for _, e := range rep.Errors {
				msgs = append(msgs, e.Tag+": "+e.Message)
			}
			return rep.Result, errors.New(strings.Join(msgs, "\n"))
		}
		return rep.Result, errors.New(err)
	}
	return rep.Result, nil
}

// Per JSON RPC spec we must return a value upon success. This is not
// idiomatic for go, so if the method will only return an error just
// ignore the bool.
func (c *Client) callBoolIgnore(method string, args ...interface{}) error {
	i, err := c.call(method, args...)
	if err != nil {
		return err
	}
	if _, ok := i.(bool); ok {
		return nil
	}
	return fmt.Errorf("wrong return type for %s got %T expecting bool", method, i)
}

func (c *Client) callBool(method string, args ...interface{}) (bool, error) {
	i, err := c.call(method, args...)
	if err != nil {
		return false, err
	}
	if v, ok := i.(bool); ok {
		return v, nil
	}
	return false, fmt.Errorf("wrong return type for %s got %T expecting bool", method, i)
}

func (c *Client) callInt(method string, args ...interface{}) (int, error) {
	i, err := c.call(method, args...)
	if err != nil {
		return -1, err
	}
	if v, ok := i.(float64); ok {
		return int(v), nil
	}
	return -1, fmt.Errorf("wrong return type for %s got %T expecting float64", method, i)
}

func (c *Client) callString(method string, args ...interface{}) (string, error) {
	i, err := c.call(method, args...)
	if err != nil {
		return "", err
	}
	if v, ok := i.(string); ok {
		return v, nil
	}
	return "", fmt.Errorf("wrong return type for %s got %T expecting string", method, i)
}

func (c *Client) callStrings(method string, args ...interface{}) ([]string, error) {
	i, err := c.call(method, args...)
	if err != nil {
		return nil, err
	}
	vs, ok := i.([]interface{})
	if !ok {
		return nil, fmt.Errorf("wrong return type for %s got %T expecting []string", method, i)
	}
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("wrong element type for %s got %T expecting string", method, v)
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) SessionSetup() error {
	return c.callBoolIgnore("SessionSetup", c.sid)
}

func (c *Client) SessionTeardown() error {
	return c.callBoolIgnore("SessionTeardown", c.sid)
}

func (c *Client) SessionChanged() (bool, error) {
	return c.callBool("SessionChanged", c.sid)
}

func (c *Client) Set(path string) (string, error) {
	return c.callString("Set", c.sid, path)
}

func (c *Client) Delete(path string) error {
	return c.callBoolIgnore("Delete", c.sid, path)
}

func (c *Client) Get(db rpc.DB, path string) ([]string, error) {
	return c.callStrings("Get", int(db), c.sid, path)
}

func (c *Client) Exists(db rpc.DB, path string) (bool, error) {
	return c.callBool("Exists", int(db), c.sid, path)
}

func (c *Client) Show(db rpc.DB, path string) (string, error) {
	return c.callString("Show", int(db), c.sid, path)
}

func (c *Client) ShowDefaults(db rpc.DB, path string) (string, error) {
	return c.callString("ShowDefaults", int(db), c.sid, path)
}

func (c *Client) Commit(message string) (string, error) {
	return c.callString("Commit", c.sid, message, false)
}

func (c *Client) ConfirmedCommit(message string, confirmed bool, timeout, persist, persistid string) (string, error) {
	return c.callString("ConfirmedCommit", c.sid, message, confirmed,
		timeout, persist, persistid, false)
}

func (c *Client) Confirm() (string, error) {
	return c.callString("Confirm", c.sid)
}

func (c *Client) CancelCommit(comment, persistid string, force bool) (string, error) {
	return c.callString("CancelCommit", c.sid, comment, persistid, force, false)
}

func (c *Client) Validate() (string, error) {
	return c.callString("Validate", c.sid)
}

func (c *Client) Discard() error {
	return c.callBoolIgnore("Discard", c.sid)
}

func (c *Client) Lock(db rpc.DB) (int, error) {
	return c.callInt("Lock", int(db), c.sid)
}

func (c *Client) Unlock(db rpc.DB) (int, error) {
	return c.callInt("Unlock", int(db), c.sid)
}

func (c *Client) Locked(db rpc.DB) (int, error) {
	return c.callInt("Locked", int(db), c.sid)
}

func (c *Client) PartialLock(selects []string) (int, error) {
	args := make([]interface{}, 0, len(selects))
	for _, s := range selects {
		args = append(args, s)
	}
	return c.callInt("PartialLock", c.sid, args)
}

func (c *Client) PartialUnlock(lockid int) error {
	return c.callBoolIgnore("PartialUnlock", c.sid, lockid)
}

func (c *Client) EditConfigPath(target, operation, path string) (string, error) {
	return c.callString("EditConfigPath", c.sid, target, operation, path)
}

func (c *Client) CopyConfig(source, target string) error {
	return c.callBoolIgnore("CopyConfig", c.sid, source, target)
}

func (c *Client) Save() error {
	return c.callBoolIgnore("Save", c.sid)
}

func (c *Client) SetConfigDebug(logName, level string) (string, error) {
	return c.callString("SetConfigDebug", c.sid, logName, level)
}

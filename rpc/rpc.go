// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

package rpc

import (
	"fmt"

	"github.com/danos/confd/datastore"
)

// Request represents an RPC request
type Request struct {
	//Method is the method that was called via json rpc
	Method string `json:"method"`
	//Args is a list of arguments to that method
	Args []interface{} `json:"params"`
	//Id is the unique request identifier
	Id int `json:"id"`
}

// Response represents an RPC response
type Response struct {
	//Result is any value returned by the handler
	//The client library uses reflection to ensure it received the
	//appropriate type.
	Result interface{} `json:"result"`
	//Error contains a message describing a problem
	Error interface{} `json:"error"`
	//Errors carries the accumulated rpc-errors of a failed validation
	//or commit check, each with its tag and instance path.
	Errors []RpcError `json:"errors,omitempty"`
	//Id is the unique request identifier
	Id int `json:"id"`
}

// RpcError is the wire form of one tagged engine error.
type RpcError struct {
	Tag     string            `json:"tag"`
	Layer   string            `json:"layer"`
	Path    string            `json:"path,omitempty"`
	Message string            `json:"message"`
	Info    map[string]string `json:"info,omitempty"`
}

type MethErr struct {
	Name string
}

func (e *MethErr) Error() string {
	return fmt.Sprintf("unknown method %s", e.Name)
}

type ArgErr struct {
	Method string
	Farg   interface{}
	Typ    string
	Etyp   string
}

func (e *ArgErr) Error() string {
	if e.Typ == "" {
		return fmt.Sprintf("cannot use %v (type %T) as type %s in call to %s",
			e.Farg, e.Farg, e.Etyp, e.Method)
	}
	return fmt.Sprintf("cannot use %v (type %s) as type %s in call to %s",
		e.Farg, e.Typ, e.Etyp, e.Method)
}

type ArgNErr struct {
	Method string
	Len    int
	Elen   int
}

func (e *ArgNErr) Error() string {
	if e.Len > e.Elen {
		return fmt.Sprintf("too many arguments in call to %s expected %d got %d",
			e.Method, e.Elen, e.Len)
	}
	return fmt.Sprintf("too few arguments in call to %s expected %d got %d",
		e.Method, e.Elen, e.Len)
}

type DB int

const (
	AUTO DB = iota
	RUNNING
	CANDIDATE
	STARTUP
)

// ToDatastore maps the wire database selector to an engine datastore
// id. AUTO resolves to candidate, the datastore a configuration session
// edits.
func (db DB) ToDatastore() datastore.Id {
	switch db {
	case RUNNING:
		return datastore.Running
	case STARTUP:
		return datastore.Startup
	}
	return datastore.Candidate
}

type NodeType int

const (
	LEAF NodeType = iota
	LEAF_LIST
	CONTAINER
	LIST
)

func (typ NodeType) String() string {
	switch typ {
	case LEAF:
		return "leaf"
	case LEAF_LIST:
		return "leaf-list"
	case CONTAINER:
		return "container"
	case LIST:
		return "list"
	default:
		return "unknown"
	}
}

type NodeStatus int

const (
	UNCHANGED NodeStatus = iota
	CHANGED
	ADDED
	DELETED
)

func (s NodeStatus) String() string {
	switch s {
	case UNCHANGED:
		return "UNCHANGED"
	case CHANGED:
		return "CHANGED"
	case ADDED:
		return "ADDED"
	case DELETED:
		return "DELETED"
	}
	return "unknown"
}

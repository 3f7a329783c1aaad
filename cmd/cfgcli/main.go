// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
cfgcli is a thin command line client for confd: one invocation, one
operation against the daemon's socket.

	cfgcli [-socket=<path>] set interfaces/dataplane/dp0s3/mtu/1500
	cfgcli delete interfaces/dataplane/dp0s3/mtu
	cfgcli commit [comment]
	cfgcli show running interfaces
	cfgcli validate
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/danos/confd/client"
	"github.com/danos/confd/rpc"
)

var socket = flag.String("socket", "/run/confd/main.sock",
	"Path to the confd socket")

func die(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func dbArg(name string) rpc.DB {
	switch strings.ToLower(name) {
	case "running":
		return rpc.RUNNING
	case "startup":
		return rpc.STARTUP
	case "candidate":
		return rpc.CANDIDATE
	}
	return rpc.AUTO
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: cfgcli <operation> [args...]")
		os.Exit(1)
	}

	sid := strconv.Itoa(os.Getpid())
	c, err := client.Dial("unix", *socket, sid)
	die(err)
	defer c.Close()
	die(c.SessionSetup())

	op, rest := args[0], args[1:]
	switch op {
	case "set":
		if len(rest) != 1 {
			die(fmt.Errorf("set requires a path"))
		}
		_, err = c.Set(rest[0])
		die(err)
	case "delete":
		if len(rest) != 1 {
			die(fmt.Errorf("delete requires a path"))
		}
		die(c.Delete(rest[0]))
	case "show":
		db, path := rpc.AUTO, ""
		if len(rest) > 0 {
			db = dbArg(rest[0])
		}
		if len(rest) > 1 {
			path = rest[1]
		}
		out, err := c.Show(db, path)
		die(err)
		fmt.Print(out)
	case "get":
		if len(rest) != 2 {
			die(fmt.Errorf("get requires a datastore and a path"))
		}
		vals, err := c.Get(dbArg(rest[0]), rest[1])
		die(err)
		for _, v := range vals {
			fmt.Println(v)
		}
	case "commit":
		msg := ""
		if len(rest) > 0 {
			msg = rest[0]
		}
		_, err = c.Commit(msg)
		die(err)
	case "commit-confirm":
		timeout := ""
		if len(rest) > 0 {
			timeout = rest[0]
		}
		_, err = c.ConfirmedCommit("", true, timeout, "", "")
		die(err)
	case "confirm":
		_, err = c.Confirm()
		die(err)
	case "cancel-commit":
		_, err = c.CancelCommit("", "", false)
		die(err)
	case "validate":
		_, err = c.Validate()
		die(err)
	case "discard":
		die(c.Discard())
	case "save":
		die(c.Save())
	case "lock":
		_, err = c.Lock(rpc.CANDIDATE)
		die(err)
	case "unlock":
		_, err = c.Unlock(rpc.CANDIDATE)
		die(err)
	case "partial-lock":
		if len(rest) == 0 {
			die(fmt.Errorf("partial-lock requires select expressions"))
		}
		id, err := c.PartialLock(rest)
		die(err)
		fmt.Println(id)
	case "partial-unlock":
		if len(rest) != 1 {
			die(fmt.Errorf("partial-unlock requires a lock id"))
		}
		id, err := strconv.Atoi(rest[0])
		die(err)
		die(c.PartialUnlock(id))
	default:
		die(fmt.Errorf("unknown operation %q", op))
	}
}

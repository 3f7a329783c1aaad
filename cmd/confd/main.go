// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
confd is a daemon that manages transactional configuration datastores
driven by a compiled schema tree.

Usage:

	-cpuprofile=<filename>
		Defines a file which to write a cpu profile that can be parsed
		with go pprof. When defined, the daemon will begin recording cpu
		profile information when it receives a SIGUSR1 signal. Then on a
		subsequent SIGUSR1 it will write the profile information to the
		defined file.

	-logfile=<filename>
		When defined confd will redirect its stdout and stderr to the
		defined file.

	-pidfile=<filename>
		Specify file for the daemon to write pid in (default:
		/run/confd/confd.pid).

	-socketfile=<filename>
		Path to the socket used to communicate with the daemon (default:
		/run/confd/main.sock).

	-schemafile=<filename>
		YAML schema description to serve, produced by the schema
		compiler toolchain.

	-conffile=<filename>
		Daemon configuration file, ini format.

	SIGUSR1
		Issuing SIGUSR1 to the daemon will toggle run-time profiling.
		Profile data will be written to the file specified by the
		cpuprofile option.
*/
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"log/syslog"
	"net"
	"os"
	"os/signal"
	"os/user"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/danos/confd"
	"github.com/danos/confd/config"
	"github.com/danos/confd/datastore"
	"github.com/danos/confd/engine"
	"github.com/danos/confd/schema"
	"github.com/danos/confd/server"
)

var basepath string = "/run/confd"
var runningprof bool
var cpuproffile os.File
var elog *log.Logger

/* Command line options */
var cpuprofile *string = flag.String("cpuprofile",
	basepath+"/confd.pprof",
	"Write cpu profile to supplied file on SIGUSR1.")

var memprofile = flag.String("memprofile", basepath+"/confd_mem.pprof",
	"Write memory profile to specified file on SIGUSR2")

var logfile *string = flag.String("logfile",
	"",
	"Redirect std{out,err} to supplied file.")

var pidfile *string = flag.String("pidfile",
	basepath+"/confd.pid",
	"Write pid to supplied file.")

var socket *string = flag.String("socketfile",
	basepath+"/main.sock",
	"Path to socket used to communicate with daemon.")

var schemafile *string = flag.String("schemafile",
	"/usr/share/confd/schema.yaml",
	"Schema description to serve.")

var conffile *string = flag.String("conffile",
	"/etc/confd/confd.conf",
	"Daemon configuration file.")

var username *string = flag.String("user",
	"confd",
	"Username to explicitly allow without authorization")

var groupname *string = flag.String("group",
	"confd",
	"Group that owns the socket")

func sigstartprof() {
	sigch := make(chan os.Signal)
	signal.Notify(sigch, syscall.SIGUSR1)
	signal.Notify(sigch, syscall.SIGUSR2)
	for {
		sig := <-sigch
		switch sig {
		case syscall.SIGUSR1:
			if !runningprof {
				cpuproffile, err := os.Create(*cpuprofile)
				if err != nil {
					log.Fatal(err)
				}
				pprof.StartCPUProfile(cpuproffile)
				runningprof = true
			} else {
				pprof.StopCPUProfile()
				cpuproffile.Close()
				runningprof = false
			}
		case syscall.SIGUSR2:
			f, err := os.Create(*memprofile)
			if err != nil {
				log.Fatal(err)
			}
			pprof.WriteHeapProfile(f)
			f.Close()
		}
	}
}

func fatal(err error) {
	if err != nil {
		log.Println(err)
		elog.Fatal(err)
	}
}

func openLogfile() {
	if logfile == nil {
		return
	}
	f, e := os.OpenFile(*logfile, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0640)
	if e != nil {
		fmt.Fprintf(os.Stderr, "%s\n", e)
		return
	}
	defer f.Close()
	syscall.Dup2(int(f.Fd()), 1)
	syscall.Dup2(int(f.Fd()), 2)
}

func writePid() {
	if pidfile == nil {
		return
	}
	f, e := os.OpenFile(*pidfile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if e != nil {
		fmt.Fprintf(os.Stderr, "%s\n", e)
		return
	}
	defer f.Close()
	pid := os.Getpid()
	fmt.Fprintf(f, "%d\n", pid)
}

func getIds(username, groupname string) (uid, gid int) {
	u, err := user.Lookup(username)
	if err != nil {
		uid = 0
	} else {
		uid, _ = strconv.Atoi(u.Uid)
	}
	g, err := user.LookupGroup(groupname)
	if err != nil {
		gid = 0
	} else {
		gid, _ = strconv.Atoi(g.Gid)
	}
	return uid, gid
}

func initialiseLogging() {
	var err error

	openLogfile()

	if logfile == nil || *logfile == "" {
		// log to stderr
		elog = log.New(os.Stderr, "", 0)
	} else {
		//rsyslog may not be up even though it returns to the init
		//system so we have to do this mess to ensure that logging
		//works.
		for i := 0; i < 5; i++ {
			elog, err = confd.NewLogger(syslog.LOG_ERR|syslog.LOG_DAEMON, 0)

			if err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		if err != nil {
			//give up and log to stderr (mapped to confd.log)
			elog = log.New(os.Stderr, "", 0)
		}
	}
}

func getListeners() net.Listener {
	listeners, err := activation.Listeners()
	fatal(err)
	if len(listeners) == 0 {
		fmt.Println("No systemd listeners")
		if !os.IsNotExist(os.Remove(*socket)) {
			fatal(err)
		}

		ua, err := net.ResolveUnixAddr("unix", *socket)
		fatal(err)

		l, err := net.ListenUnix("unix", ua)
		fatal(err)

		err = os.Chmod(*socket, 0777)
		fatal(err)

		uid, gid := getIds(*username, *groupname)
		err = os.Chown(*socket, uid, gid)
		fatal(err)

		listeners = append(listeners, l)
	}
	return listeners[0]
}

func loadSchema(path string) *schema.SchemaObject {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		fatal(err)
	}
	root, err := schema.LoadFixture(data)
	fatal(err)
	return root
}

func main() {
	debug.SetGCPercent(25)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	initialiseLogging()

	fatal(os.MkdirAll(basepath, 0755))

	go sigstartprof()

	cfg, err := config.Load(*conffile)
	fatal(err)
	cfg.Socket = *socket
	cfg.Logfile = *logfile
	cfg.Pidfile = *pidfile
	if *username != "" {
		cfg.User = *username
	}

	schemaRoot := loadSchema(*schemafile)

	eng := engine.New(schemaRoot,
		engine.WithConfirmJobFile(cfg.ConfirmJobFile))

	// Snapshot loading is the persistence layer's job; the engine
	// accepts whatever validated tree it produced. Empty roots here
	// until a loader hands over real content.
	for _, id := range []datastore.Id{
		datastore.Running, datastore.Candidate, datastore.Startup,
	} {
		fatal(eng.ApplyLoadRoot(id, datastore.New(schemaRoot, "", "")))
	}

	l := getListeners()

	srv := server.NewSrv(l.(*net.UnixListener), eng, cfg.User, cfg, elog)

	writePid()

	// Initialization may generate significant garbage ensure that
	// it is cleaned up immediately.
	runtime.GC()
	debug.FreeOSMemory()

	fatal(srv.Serve())
}

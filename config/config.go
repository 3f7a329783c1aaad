// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package config loads the daemon's own configuration file. Command
// line flags override anything read here; the file exists so packaged
// deployments can ship settings without editing unit files.
package config

import (
	"github.com/go-ini/ini"
)

// Config carries the daemon's operating parameters.
type Config struct {
	User           string
	Runfile        string
	Logfile        string
	Pidfile        string
	Socket         string
	SecretsGroup   string
	SuperGroup     string
	ConfirmJobFile string

	// ConfirmedTimeout is the confirmed-commit timeout in seconds read
	// from the config file. The commit path does not consult it: a
	// <commit confirmed> that names no timeout uses
	// confirm.DefaultTimeout.
	ConfirmedTimeout uint32

	// WithStartup is the withstartup flag read from the config file.
	// Nothing else consults it: the engine always creates the startup
	// datastore and does not copy running to startup on commit.
	WithStartup bool

	Debug string
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		User:             "confd",
		Runfile:          "/run/confd/running.config",
		Pidfile:          "/run/confd/confd.pid",
		Socket:           "/run/confd/main.sock",
		SecretsGroup:     "secrets",
		ConfirmJobFile:   "/config/confirmed_commit.job",
		ConfirmedTimeout: 600,
	}
}

// Load reads path over the defaults. A missing file is not an error;
// the defaults stand.
func Load(path string) (*Config, error) {
	c := Defaults()
	if path == "" {
		return c, nil
	}
	f, err := ini.LooseLoad(path)
	if err != nil {
		return nil, err
	}
	sec := f.Section("confd")
	assign := func(key string, dst *string) {
		if sec.HasKey(key) {
			*dst = sec.Key(key).String()
		}
	}
	assign("user", &c.User)
	assign("runfile", &c.Runfile)
	assign("logfile", &c.Logfile)
	assign("pidfile", &c.Pidfile)
	assign("socket", &c.Socket)
	assign("secretsgroup", &c.SecretsGroup)
	assign("supergroup", &c.SuperGroup)
	assign("confirmjobfile", &c.ConfirmJobFile)
	assign("debug", &c.Debug)
	if sec.HasKey("confirmedtimeout") {
		if v, err := sec.Key("confirmedtimeout").Uint(); err == nil && v > 0 {
			c.ConfirmedTimeout = uint32(v)
		}
	}
	if sec.HasKey("withstartup") {
		c.WithStartup, _ = sec.Key("withstartup").Bool()
	}
	return c, nil
}

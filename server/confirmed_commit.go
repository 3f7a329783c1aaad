// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"strconv"

	"github.com/danos/confd/confirm"
	"github.com/danos/confd/mgmterror"
)

// newCommitOptions validates the wire arguments of a confirmed commit
// and maps them to the engine's options. A timeout of zero is not
// permitted.
func newCommitOptions(confirmed bool, timeout, persist, persistid string) (*confirm.Options, error) {
	opts := &confirm.Options{Confirmed: confirmed, PersistId: persistid}
	if timeout != "" {
		seconds, err := strconv.ParseUint(timeout, 10, 32)
		if err != nil {
			return nil, mgmterror.NewInvalidValueError(err.Error())
		}
		if seconds == 0 {
			return nil, mgmterror.NewInvalidValueError(
				"timeout value out of range, 0 is not permitted")
		}
		opts.Timeout = uint32(seconds)
	} else {
		opts.Timeout = confirm.DefaultTimeout
	}
	opts.Persist = persist != "" || persistid != ""
	if persist != "" && persistid == "" {
		opts.PersistId = persist
	}
	return opts, nil
}

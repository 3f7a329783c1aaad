// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"github.com/danos/confd/mgmterror"
)

func sessTermError() error {
	return mgmterror.NewOperationFailedError("session terminated")
}

func nilSessionMgrError() error {
	return mgmterror.NewInternalError("no session manager")
}

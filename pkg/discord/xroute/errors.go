package xroute

import "errors"

var errNotAbsolute = errors.New("xroute: external route requires an absolute url")

//go:build !unix

package ingress

import "syscall"

// SO_REUSEADDR on Windows lets another socket take over a bound port, so
// the runtime default is kept.
var reuseAddrControl func(network, address string, c syscall.RawConn) error

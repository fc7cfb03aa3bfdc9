package fetcher

import (
	"net"
	"os"
	"syscall"

	"github.com/pkg/errors"
)

func isDisconnectedError(err error) bool {
	if err == nil {
		return false
	}

	var oe *net.OpError
	if !errors.As(err, &oe) {
		return false
	}
	se, ok := oe.Err.(*os.SyscallError)
	if !ok {
		return false
	}
	errno, ok := se.Err.(syscall.Errno)
	if !ok {
		return false
	}
	if errno == syscall.WSAECONNABORTED || errno == syscall.WSAECONNRESET {
		return true
	}

	return false
}

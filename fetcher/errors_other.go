//go:build !windows
// +build !windows

package fetcher

import (
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

func isDisconnectedError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	if strings.Contains(err.Error(), "use of closed network connection") {
		return true
	}

	return false
}

//go:build !windows && !plan9

package server

import "golang.org/x/sys/unix"

func terminate(pid int) error { return unix.Kill(pid, unix.SIGTERM) }

func kill(pid int) error { return unix.Kill(pid, unix.SIGKILL) }

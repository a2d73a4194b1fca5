//go:build linux

package supervisor

import "syscall"

// buildSysProcAttr puts the runtime in its own process group so a terminal
// Ctrl+C does not reach it, and asks the kernel to SIGTERM it if this
// process dies without cleaning up.
func buildSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
		Setpgid:   true,
	}
}

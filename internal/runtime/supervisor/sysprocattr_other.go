//go:build !linux

package supervisor

import "syscall"

// Pdeathsig is Linux-only; elsewhere a dedicated process group is all we get.
func buildSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

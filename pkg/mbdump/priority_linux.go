//go:build linux
// +build linux

package mbdump

import (
	"syscall"
)

const SupportsSettingPriorities = true

func SetLowCpuPriority(pid int) error {
	return syscall.Setpriority(syscall.PRIO_PROCESS, pid, 19)
}

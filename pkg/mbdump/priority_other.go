//go:build !linux
// +build !linux

package mbdump

const SupportsSettingPriorities = false

func SetLowCpuPriority(pid int) error {
	return nil
}

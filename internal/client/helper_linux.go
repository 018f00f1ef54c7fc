//go:build linux

package client

import (
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// helperWaitDelay bounds how long Wait lingers on pipes held open by a
// helper's grandchildren (adb daemons are the usual culprit).
const helperWaitDelay = 2 * time.Second

// prepareHelper puts the helper in its own process group and makes context
// cancellation kill the whole group, so an adb wrapper cannot leave a device
// shell running after the handshake gives up.
func prepareHelper(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGKILL,
	}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = helperWaitDelay
}

//go:build !linux

package client

import (
	"os/exec"
	"time"
)

const helperWaitDelay = 2 * time.Second

// prepareHelper only bounds Wait here; process groups are Linux-only.
func prepareHelper(cmd *exec.Cmd) {
	cmd.WaitDelay = helperWaitDelay
}

//go:build windows

package command

import "os/exec"

// setCancel keeps the default kill on windows, where there is no privilege switch.
func setCancel(_ *exec.Cmd) {}

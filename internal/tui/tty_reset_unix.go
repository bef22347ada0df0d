//go:build !windows

package tui

import (
	"os"
	"os/exec"

	"github.com/mattn/go-isatty"
)

// bestEffortResetTTY restores cooked mode if the program exits with the
// terminal still raw.
func bestEffortResetTTY() {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return
	}
	cmd := exec.Command("stty", "sane")
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, nil, nil
	_ = cmd.Run()
}

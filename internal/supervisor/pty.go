package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/creack/pty"
)

// ptyStdio attaches the child's stdin and stdout to a new pseudo terminal so
// it behaves as it would in an interactive shell. Stderr stays a pipe to keep
// the two streams apart.
func ptyStdio(cmd *exec.Cmd) (*stdio, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: PTYRows, Cols: PTYCols}); err != nil {
		ptmx.Close()
		tty.Close()
		return nil, fmt.Errorf("set pty size: %w", err)
	}

	errR, errW, err := os.Pipe()
	if err != nil {
		ptmx.Close()
		tty.Close()
		return nil, err
	}

	cmd.Stdin, cmd.Stdout, cmd.Stderr = tty, tty, errW
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}
	if !hasEnv(cmd.Env, "TERM") {
		cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	}

	return &stdio{
		stdin:  ptmx,
		stdout: ptmx,
		stderr: errR,
		child:  []*os.File{tty, errW},
	}, nil
}

func hasEnv(env []string, key string) bool {
	for _, kv := range env {
		if strings.HasPrefix(kv, key+"=") {
			return true
		}
	}
	return false
}

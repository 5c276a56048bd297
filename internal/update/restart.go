package update

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Akaiko1/game-grove/internal/logging"
)

// Restarter relaunches the application after an install.
type Restarter interface {
	Restart(ctx context.Context) error
}

// ExecRestarter starts Executable with the current arguments, then calls Exit.
//
// Executable must be captured before installing: once the bundle is swapped, os.Executable may
// resolve to the moved-aside backup.
type ExecRestarter struct {
	Executable string
	Args       []string
	Exit       func(code int)
}

// NewExecRestarter creates an ExecRestarter for the running process.
func NewExecRestarter() (*ExecRestarter, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve executable")
	}
	return &ExecRestarter{
		Executable: exe,
		Args:       os.Args[1:],
		Exit:       os.Exit,
	}, nil
}

// Restart starts the new process and exits the current one.
func (r *ExecRestarter) Restart(ctx context.Context) error {
	cmd := exec.Command(r.Executable, r.Args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return goerr.Wrap(err, "failed to relaunch application", goerr.V("executable", r.Executable))
	}
	logging.From(ctx).Info("Relaunched application, exiting", "pid", cmd.Process.Pid)

	// Give the new process a moment to initialize before we exit
	time.Sleep(100 * time.Millisecond)
	r.Exit(0)
	return nil
}

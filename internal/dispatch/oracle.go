package dispatch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/divergentdave/alice/internal/log"
	"github.com/divergentdave/alice/internal/osutil"
)

var ErrOracleFault = errors.New("checker could not be run")

// check runs the checker over one crash image, keeps its output if the image
// was rejected, and removes the image.
func (d *Dispatcher[K]) check(worker int, task Task[K]) Result {
	stdoutPath := task.Dir + ".output_stdout"
	stderrPath := task.Dir + ".output_stderr"
	defer func() {
		if err := osutil.RemoveAll(task.Dir, task.Dir+".input_stdout", stdoutPath, stderrPath); err != nil {
			log.Errorf("failed to remove crash image %s: %v", task.Dir, err)
		}
	}()

	res := runOracle(d.cfg.Oracle, task.Dir, strconv.Itoa(worker), stdoutPath, stderrPath)
	log.Logf(2, "worker %d: %s exited with %d", worker, task.Name, res.Code)
	if res.Failed() && d.cfg.LogDir != "" {
		for _, f := range []struct{ src, suffix string }{{stdoutPath, "_stdout.log"}, {stderrPath, "_stderr.log"}} {
			dst := filepath.Join(d.cfg.LogDir, task.Name+f.suffix)
			if err := osutil.CopyFile(f.src, dst); err != nil {
				log.Errorf("failed to save checker output of %s: %v", task.Name, err)
			}
		}
	}
	return res
}

func runOracle(oracle []string, dir, worker, stdoutPath, stderrPath string) Result {
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return Result{Code: -1, Err: fmt.Errorf("%w: %v", ErrOracleFault, err)}
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return Result{Code: -1, Err: fmt.Errorf("%w: %v", ErrOracleFault, err)}
	}
	defer stderr.Close()

	args := append(append([]string{}, oracle[1:]...), dir, dir+".input_stdout", worker)
	cmd := exec.Command(oracle[0], args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err = cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return Result{}
	case errors.As(err, &exitErr):
		// Killed by a signal reports -1, which still counts as a rejection.
		return Result{Code: exitErr.ExitCode()}
	default:
		return Result{Code: -1, Err: fmt.Errorf("%w: %v", ErrOracleFault, err)}
	}
}

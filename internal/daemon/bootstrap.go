package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// StartDaemon spawns the hidden `daemon` command of the running executable,
// detached from the parent process. Returns the child PID.
func StartDaemon(configPath string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, err
	}
	return StartDaemonWithPath(executable, configPath)
}

// StartDaemonWithPath spawns `<binaryPath> daemon` detached from the parent.
func StartDaemonWithPath(binaryPath, configPath string) (int, error) {
	cmd := exec.Command(binaryPath, daemonArgs(configPath)...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - the daemon logs to its own file
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, err
	}
	return pid, nil
}

func daemonArgs(configPath string) []string {
	args := []string{"daemon"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}

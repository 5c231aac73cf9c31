package scheduler

import "syscall"

// interruptSignal is the cooperative termination signal sent to a
// Runner subprocess: SIGTERM, which the Runner's own signal handler
// uses to stop ffmpeg, clean up temp files, and release its lock.
func interruptSignal() syscall.Signal {
	return syscall.SIGTERM
}

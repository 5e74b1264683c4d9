package pty

import (
	"os"
	"os/signal"
	"syscall"
)

// jobControlSignals are reset to their default action in the shell.
var jobControlSignals = []os.Signal{
	syscall.SIGCHLD,
	syscall.SIGHUP,
	syscall.SIGINT,
	syscall.SIGQUIT,
	syscall.SIGTERM,
	syscall.SIGALRM,
}

// catchJobControlSignals routes the job-control signals to a channel. The
// runtime only resets dispositions it has installed a handler for, so a
// signal the daemon inherited as ignored (nohup, a background job of a
// non-interactive shell) would otherwise stay ignored in the shell and in
// everything it runs. The registration must outlive the spawn; release it
// with signal.Stop once the session is torn down.
//
// While registered, those signals no longer terminate this process; callers
// that want SIGINT or SIGTERM to stop the daemon subscribe to them too.
func catchJobControlSignals() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, jobControlSignals...)
	return ch
}

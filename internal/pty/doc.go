// Package pty owns the pseudo-terminal behind a session: it allocates the
// controller/worker pair, spawns the shell as a session leader with the
// worker as its controlling terminal, and hands out one exclusive writer
// plus any number of duplicated readers over the controller.
package pty

// Package mux shares one pseudo-terminal between many socket clients.
//
// A single Broadcaster reads the pty and fans each chunk out to per-client
// bounded queues; a single Aggregator collects client input and is the only
// writer of the pty. Each Connection runs one input pump and one output
// pump, and the Server's accept loop ties them together and watches the
// shell for exit.
package mux

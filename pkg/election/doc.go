// Package election implements leader election among a fixed set of
// instances using either the bully or the ring (Chang-Roberts) algorithm.
//
// Every Instance is an actor: one goroutine drains a FIFO mailbox and is the
// only code that mutates the instance's leader and state. Instances never
// talk to each other directly; all traffic goes through a MessageManager,
// which knows who is alive and drops anything addressed to or from a dead
// instance.
//
// A Cluster wires instances, the manager, metrics and the event bus together
// and is what drivers (tests, cmd/electiond, cmd/election-sim) use.
package election

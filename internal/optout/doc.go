// Package optout keeps the set of active players who opted out of the
// accuracy nerf.
//
// Reads are answered from memory only. Writes update memory first and are
// persisted by a task handed to a Scheduler, so no caller ever waits on the
// store. Players are loaded when they join and evicted when they leave; the
// store stays authoritative across sessions.
package optout

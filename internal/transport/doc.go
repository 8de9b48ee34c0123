// Package transport owns the OSC datagram channel to the session daemon.
//
// Ownership boundary:
// - local server socket lifecycle
// - path+signature handler table
// - blocking, cancellable receive step
package transport

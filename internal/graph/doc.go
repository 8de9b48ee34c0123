// Package graph owns the audio-graph side of a session.
//
// Ownership boundary:
// - narrow client API of the audio-graph service (Backend, Conn)
// - session client lifecycle: activate -> save directory -> save
// - registry of client names currently known to the graph
//
// Backends live in subpackages: memgraph (in-process) and jackexec
// (JACK command-line tools).
package graph

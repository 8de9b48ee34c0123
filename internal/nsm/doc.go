// Package nsm owns the session-daemon side of the client: the announce
// handshake and the open/save request dispatcher.
//
// Lifecycle order:
// - disconnected -> announcing -> ready -> terminated
//
// - a failed open or save is never acknowledged; Run returns the error and
// the process is expected to exit.
package nsm

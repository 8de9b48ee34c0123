// Package njsm owns the process runtime around the session client.
//
// Ownership boundary:
// - env and service configuration
// - backend selection
// - signal-driven shutdown and teardown
//
// Lifecycle order:
// - build session client -> build nsm client -> announce -> run
//
// - teardown releases the transport and then the graph connection, on every
// exit path.
package njsm

// Package osc owns the OSC 1.0 wire contract used to talk to the session daemon.
//
// Ownership boundary:
// - message and bundle encode/decode (on hypebeast/go-osc)
// - liblo-style osc.udp:// URL parsing
//
// Type tags are exposed without the leading comma, matching the signature
// strings handlers are registered under ("ssss", "sis", "").
package osc

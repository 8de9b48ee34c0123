// Package tools provides host command helpers for backends that drive
// external programs.
//
// Ownership boundary:
// - blocking command execution with captured output
//
// - line streaming from long-running monitors
package tools

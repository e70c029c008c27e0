// Package tools provides host process helpers.
//
// Ownership boundary:
// - one-shot command execution (CommandRunner)
// - long-running child process launch and supervision handles (Launcher)
package tools

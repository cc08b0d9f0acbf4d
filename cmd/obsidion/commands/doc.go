// Package commands implements the obsidion CLI: a terminal chat client
// demonstrating both ends of an encrypted bridge session, with optional
// session persistence for resumption.
package commands

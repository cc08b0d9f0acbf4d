// Package store persists session key material for the CLI so a bridge
// can be resumed after a restart. The library itself never touches
// storage; this is a collaborator of cmd/obsidion only.
package store

// Package store implements the persistence layer for the upload session
// registry: atomic load/save of the full session document, plus pluggable
// backends (a flat JSON file, or SQLite for larger deployments). Each
// backend satisfies the session.Backend interface structurally; it is not
// redeclared here to avoid an import cycle with internal/session.
package store

// Package store defines the persistence interfaces for the task engine and
// the sentinel errors every implementation maps its failures onto. Keeping
// the interfaces here lets the engine's core logic stay independent of the
// concrete database.
package store

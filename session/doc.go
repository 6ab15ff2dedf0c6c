// Package session persists conversations between runs.
//
// Store is the contract; InMemoryStore keeps JSON snapshots in memory. Add
// additional backends in sub-packages without changing any calling code.
package session

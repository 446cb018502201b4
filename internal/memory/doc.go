// Package memory samples system memory, classifies pressure and gates model
// allocations. A Monitor keeps the latest MemorySnapshot behind an atomic
// pointer so readers never block on the poll loop or on model loads.
package memory

// Package backend defines the interface a zkVM backend implements inside its
// server container, along with a registry of backend factories keyed by
// backend kind.
package backend

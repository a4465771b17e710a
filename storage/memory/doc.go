// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments. For horizontally scaled deployments use the redis package,
// which provides the same atomicity guarantees across instances.
package memory

// Package algo registers the algorithms that processes delegate their
// computation to.
//
// Algorithms are keyed by (group, name) and carry descriptive attributes.
// A Computer has one synchronous typed operation; registering it with
// RegisterComputer also makes it usable through the untyped Dynamic view,
// which the algorithm process in package processes drives.
package algo

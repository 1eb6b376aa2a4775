// Package edge implements the datum channel between process ports.
//
// An Edge has one source port and one or more sink ports. Each sink reads
// every datum in FIFO order from its own queue, bounded by the edge capacity:
// a producer blocks in Push until every live sink has room. Completion markers
// bypass capacity and, once drained, Pop returns Complete forever.
package edge

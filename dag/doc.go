// Package dag orders the processes of a pipeline.
//
// BuildLevels groups nodes by dependency depth with Kahn's algorithm;
// TopoOrder flattens the levels into a deterministic order that follows node
// insertion order within a level. A cycle fails with pipeline-is-cyclic and
// names one offending loop.
package dag

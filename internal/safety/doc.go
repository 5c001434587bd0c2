// Package safety holds the pure checks that decide whether a candidate
// state may enter a trajectory.
//
// Checks run in a fixed order and the first failure wins:
//
//  1. [CheckFinite]: every component is finite
//  2. [CheckEnergy]: the plant energy does not exceed the ceiling
//  3. [CheckBounds]: configured components lie within [min, max]
//
// A failure is reported as a [*Violation]. Nothing in this package keeps
// state between calls, so a [Guard] may be shared freely.
package safety

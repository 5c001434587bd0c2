// Package control provides the controllers for the double inverted
// pendulum:
//
//   - [Zero]: no input
//   - [LQR]: full state feedback, usually designed with [DesignLQR]
//   - [PID]: a stateful loop on one state component
//
// LQR and Zero implement [dynamo.Controller]; PID implements
// [dynamo.StatefulController] and keeps its integral and error history
// outside the receiver.
//
//	dip := physics.NewDoubleInvertedPendulum()
//	lqr, err := control.NewDIPLQR(dip, 0.01, control.DefaultWeights())
package control

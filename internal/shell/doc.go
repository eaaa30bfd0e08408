// Package shell ties the command manager, the configured command packs and
// the network listeners into one service that starts and stops as a unit.
//
// Start discovers every pack concurrently, registers the results on the
// service loop in pack order, then binds the listeners. A pack that fails is
// reported and skipped; a listener that fails to bind aborts the start and
// rolls everything back. Close unbinds the listeners, cancels what is still
// running and waits for it within the shutdown timeout.
package shell

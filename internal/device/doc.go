// Package device holds the shared session model of the gateway.
//
// It defines:
//   - the Device record and its copy-out Snapshot view
//   - the lifecycle state machine (Discovered through Ready, Disconnected, Failed)
//   - the error taxonomy reported at the request-serving boundary
//   - the transport boundary (Transport, Link) implemented by radio drivers
//
// The registry owns every mutable Device; other packages only see Snapshots or
// mutate through registry transactions.
package device

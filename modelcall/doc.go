// Package modelcall defines the model-calling interface consumed by the
// turn orchestration core, together with the message types shared across
// the runtime, a typed provider error taxonomy with retry classification,
// and a gollm-backed default client.
//
// The orchestration core in package turnloop treats model completion as an
// external collaborator: anything satisfying the Client interface can
// drive a turn. The GollmClient implementation covers the common
// providers through gollm's configuration surface.
package modelcall

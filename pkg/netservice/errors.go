package netservice

import "errors"

// Sentinel errors returned by Service's public API (spec.md §7). Request
// failures from the network itself (no connection, queue full, request too
// large) surface as the underlying chainnet sentinel via errors.Is, since
// wrapping them in a second netservice-specific type would add a layer
// callers have to unwrap for no new information.
var (
	// ErrClosed names the closed-service condition. No Service method
	// returns it: methods do not check whether Close has been called, and a
	// method that waits for a reply keeps waiting once the coordinator has
	// stopped.
	ErrClosed = errors.New("netservice: service closed")
	// ErrUnknownChain names the unregistered-ChainId condition. No Service
	// method returns it: ChainIds are passed to chainnet.Network unchecked.
	ErrUnknownChain = errors.New("netservice: unknown chain")
	// ErrRequestTimedOut names the request-timeout condition. No Service
	// method returns it: a request's timeout is handed to chainnet.Network,
	// and whatever error its RequestResult carries is returned as-is.
	ErrRequestTimedOut = errors.New("netservice: request timed out")
)

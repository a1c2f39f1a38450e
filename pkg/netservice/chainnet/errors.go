package chainnet

import "errors"

// Error kinds exposed at the C2 contract boundary (spec.md §6/§7). Callers
// of this package should compare with errors.Is.
var (
	// ErrNoConnection: no transport to the target when the request was
	// submitted (StartRequestError::NoConnection).
	ErrNoConnection = errors.New("chainnet: no connection to target")

	// ErrRequestTooLarge: request parameters exceed a protocol-defined
	// limit (StartRequestMaybeTooLargeError::RequestTooLarge). Only
	// returned by the storage-proof and call-proof starters.
	ErrRequestTooLarge = errors.New("chainnet: request too large")

	// ErrQueueFull: the outbound notification queue toward the peer is
	// full (QueueNotificationError::QueueFull).
	ErrQueueFull = errors.New("chainnet: notification queue full")

	// ErrGenesisMismatch: a gossip-open attempt failed because the peer
	// reported a different genesis than ours (GossipConnectError::GenesisMismatch).
	ErrGenesisMismatch = errors.New("chainnet: genesis mismatch")

	// ErrFindNodeRequestFailed: the underlying find-node request failed
	// (KademliaFindNodeError::RequestFailed).
	ErrFindNodeRequestFailed = errors.New("chainnet: find-node request failed")
)

// ProtocolError wraps an inner network error and exposes the two predicates
// spec.md §7 uses for log-level selection: protocol violations warrant a
// warn, benign network hiccups warrant a debug.
type ProtocolError struct {
	Err               error
	protocolViolation bool
	networkProblem    bool
}

func (e *ProtocolError) Error() string { return e.Err.Error() }
func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether this error represents a protocol
// violation by the remote peer (as opposed to a transient network issue).
func (e *ProtocolError) IsProtocolError() bool { return e.protocolViolation }

// IsNetworkProblem reports whether this error represents a benign,
// non-malicious network condition (timeout, reset, etc.).
func (e *ProtocolError) IsNetworkProblem() bool { return e.networkProblem }

// NewProtocolViolation wraps err as a protocol-violation ProtocolError.
func NewProtocolViolation(err error) *ProtocolError {
	return &ProtocolError{Err: err, protocolViolation: true}
}

// NewNetworkProblem wraps err as a benign-network-problem ProtocolError.
func NewNetworkProblem(err error) *ProtocolError {
	return &ProtocolError{Err: err, networkProblem: true}
}

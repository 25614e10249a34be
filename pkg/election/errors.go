package election

import "errors"

// Configuration errors
var (
	ErrNoInstances          = errors.New("at least one instance id is required")
	ErrInvalidID            = errors.New("instance ids must be non-negative")
	ErrDuplicateInstance    = errors.New("duplicate instance id")
	ErrInvalidAlgorithm     = errors.New("algorithm must be bully or ring")
	ErrUnknownInitialLeader = errors.New("initial leader is not a configured instance")
	ErrProbeTimeoutTooLarge = errors.New("probe timeout must be shorter than the heartbeat interval")
	ErrInvalidConfig        = errors.New("invalid election config")
)

// Runtime errors
var (
	ErrNoAliveInstance   = errors.New("no alive instance in the cluster")
	ErrInstanceNotFound  = errors.New("instance not found")
	ErrUnknownKind       = errors.New("unknown message kind")
	ErrInvalidCandidate  = errors.New("message content is not a candidate id")
	ErrClusterRunning    = errors.New("cluster already running")
	ErrClusterNotRunning = errors.New("cluster not running")
	ErrClusterStopped    = errors.New("cluster was stopped and cannot be restarted")
)

package seatbridge

import "context"

// Backend is one way of reaching the seat data. Implementations must never
// return a nil Result; failures are reported inside it.
type Backend interface {
	Name() string
	Call(ctx context.Context, req *RemoteCallRequest) *Result
}

// Transport moves a single remote call over the wire.
type Transport interface {
	Call(ctx context.Context, req *RemoteCallRequest) *Result
}

// NetworkStatus reports whether the device currently has connectivity.
type NetworkStatus interface {
	Online() bool
}

// OfflineQueue accepts operations for replay once connectivity returns.
type OfflineQueue interface {
	AddOperation(op OfflineOperation) error
}

// AlwaysOnline is the NetworkStatus used when no signal is wired.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool { return true }

// StaticStatus is a NetworkStatus with a fixed answer.
type StaticStatus bool

func (s StaticStatus) Online() bool { return bool(s) }

// BackendFunc adapts a function to the Backend interface.
type BackendFunc struct {
	BackendName string
	Fn          func(ctx context.Context, req *RemoteCallRequest) *Result
}

func (b BackendFunc) Name() string { return b.BackendName }

func (b BackendFunc) Call(ctx context.Context, req *RemoteCallRequest) *Result {
	return b.Fn(ctx, req)
}

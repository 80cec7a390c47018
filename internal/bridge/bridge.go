// Package bridge loads a compiled WASM computation module and gives its
// code transparent access to the remote daemon: the guest's host_call
// import is wired to the RPC correlation layer.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/keywave/walletbridge/internal/rpc"
	"github.com/keywave/walletbridge/internal/util"
)

// ErrModuleLoad reports that the module failed to load or instantiate.
// It is fatal to the session.
var ErrModuleLoad = errors.New("bridge: module instantiation failed")

// HostCaller issues remote calls on behalf of the guest. *rpc.Conn
// implements it.
type HostCaller interface {
	Call(ctx context.Context, method string, params any, opts ...rpc.CallOption) (json.RawMessage, error)
}

// hostRequest is the JSON blob the guest passes to host_call.
type hostRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Module is an instantiated guest bound to a HostCaller.
//
// Guest ABI: the guest imports env.host_call(ptr, len) -> u64 and exports
// a linear memory plus allocate(size) -> ptr. host_call reads a JSON
// {method, params} blob from guest memory, performs the remote call, and
// returns the result written into guest memory as pack(ptr, len). Remote
// failures come back as an {"error": "..."} blob rather than a trap.
type Module struct {
	runtime wazero.Runtime
	guest   api.Module
}

// Load instantiates the WASM binary and wires host_call to caller.
func Load(ctx context.Context, binary []byte, caller HostCaller) (*Module, error) {
	runtime := wazero.NewRuntime(ctx)

	_, err := runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, guest api.Module, ptr, size uint32) uint64 {
			return hostCall(ctx, guest, caller, ptr, size)
		}).
		Export("host_call").
		Instantiate(ctx)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("%w: host module: %w", ErrModuleLoad, err)
	}

	guest, err := runtime.Instantiate(ctx, binary)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("%w: %w", ErrModuleLoad, err)
	}
	if guest.ExportedFunction("allocate") == nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("%w: guest does not export allocate", ErrModuleLoad)
	}
	if guest.Memory() == nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("%w: guest does not export memory", ErrModuleLoad)
	}

	return &Module{runtime: runtime, guest: guest}, nil
}

// Invoke runs an exported guest function by name.
func (m *Module) Invoke(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := m.guest.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("bridge: guest does not export %q", name)
	}
	return fn.Call(ctx, args...)
}

// Close releases the runtime and the guest instance.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// hostCall services one guest → host invocation. It never traps the
// guest: every failure is delivered as an error blob (or, for memory
// violations, a zero return).
func hostCall(ctx context.Context, guest api.Module, caller HostCaller, ptr, size uint32) uint64 {
	data, ok := guest.Memory().Read(ptr, size)
	if !ok {
		util.LogWarning("host_call: guest passed out-of-range memory (ptr=%d len=%d)", ptr, size)
		return 0
	}

	var req hostRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return writeGuest(ctx, guest, errorBlob(fmt.Sprintf("malformed host_call request: %v", err)))
	}

	payload, err := caller.Call(ctx, req.Method, req.Params)
	if err != nil {
		return writeGuest(ctx, guest, errorBlob(err.Error()))
	}
	return writeGuest(ctx, guest, payload)
}

// writeGuest copies out into guest memory via the allocate export and
// returns pack(ptr, len). A zero return tells the guest the host side
// could not deliver.
func writeGuest(ctx context.Context, guest api.Module, out []byte) uint64 {
	allocate := guest.ExportedFunction("allocate")
	res, err := allocate.Call(ctx, uint64(len(out)))
	if err != nil || len(res) == 0 {
		util.LogWarning("host_call: guest allocate failed: %v", err)
		return 0
	}

	ptr := uint32(res[0])
	if !guest.Memory().Write(ptr, out) {
		util.LogWarning("host_call: writing %d bytes at %d failed", len(out), ptr)
		return 0
	}
	return pack(ptr, uint32(len(out)))
}

func errorBlob(message string) []byte {
	blob, _ := json.Marshal(map[string]string{"error": message})
	return blob
}

// pack encodes a guest memory region as ptr in the high 32 bits and
// length in the low 32 bits.
func pack(ptr, size uint32) uint64 {
	return uint64(ptr)<<32 | uint64(size)
}

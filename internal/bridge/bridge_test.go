package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/keywave/walletbridge/internal/rpc"
)

// emptyModule is the smallest valid WASM binary: magic + version, no
// sections. It instantiates cleanly but exports nothing.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// guestModule is a hand-assembled guest implementing the full ABI:
//
//	(import "env" "host_call" (func (param i32 i32) (result i64)))
//	(memory (export "memory") 1)
//	(func (export "allocate") (param i32) (result i32) i32.const 1024)
//	(func (export "run") (param i32 i32) (result i64)
//	  local.get 0 local.get 1 call $host_call)
//
// allocate hands out a fixed region at 1024; tests stage their request
// blobs at 4096 to stay clear of it.
var guestModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic + version
	// type section: (i32,i32)->i64, (i32)->i32
	0x01, 0x0c, 0x02,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e,
	0x60, 0x01, 0x7f, 0x01, 0x7f,
	// import section: env.host_call (type 0)
	0x02, 0x11, 0x01,
	0x03, 'e', 'n', 'v',
	0x09, 'h', 'o', 's', 't', '_', 'c', 'a', 'l', 'l',
	0x00, 0x00,
	// function section: allocate (type 1), run (type 0)
	0x03, 0x03, 0x02, 0x01, 0x00,
	// memory section: one page
	0x05, 0x03, 0x01, 0x00, 0x01,
	// export section: memory, allocate, run
	0x07, 0x1b, 0x03,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x08, 'a', 'l', 'l', 'o', 'c', 'a', 't', 'e', 0x00, 0x01,
	0x03, 'r', 'u', 'n', 0x00, 0x02,
	// code section
	0x0a, 0x10, 0x02,
	0x05, 0x00, 0x41, 0x80, 0x08, 0x0b, // allocate: i32.const 1024
	0x08, 0x00, 0x20, 0x00, 0x20, 0x01, 0x10, 0x00, 0x0b, // run: call host_call
}

const stagePtr = 4096 // where tests stage request blobs in guest memory

// stubCaller records the last call and answers with a canned result.
type stubCaller struct {
	method  string
	params  json.RawMessage
	payload json.RawMessage
	err     error
}

func (s *stubCaller) Call(ctx context.Context, method string, params any, opts ...rpc.CallOption) (json.RawMessage, error) {
	s.method = method
	if raw, ok := params.(json.RawMessage); ok {
		s.params = raw
	}
	return s.payload, s.err
}

// invokeGuest stages blob in guest memory and drives the run export,
// returning the bytes host_call wrote back.
func invokeGuest(t *testing.T, mod *Module, blob []byte) []byte {
	t.Helper()
	ctx := context.Background()

	if !mod.guest.Memory().Write(stagePtr, blob) {
		t.Fatalf("staging %d bytes at %d failed", len(blob), stagePtr)
	}
	res, err := mod.Invoke(ctx, "run", stagePtr, uint64(len(blob)))
	if err != nil {
		t.Fatalf("invoke run: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("run returned %d values, want 1", len(res))
	}
	ptr, size := uint32(res[0]>>32), uint32(res[0])
	out, ok := mod.guest.Memory().Read(ptr, size)
	if !ok {
		t.Fatalf("reading result at ptr=%d len=%d failed", ptr, size)
	}
	return out
}

func TestLoadRejectsInvalidBinary(t *testing.T) {
	_, err := Load(context.Background(), []byte("definitely not wasm"), nil)
	if !errors.Is(err, ErrModuleLoad) {
		t.Fatalf("err = %v, want ErrModuleLoad", err)
	}
}

func TestLoadRejectsModuleWithoutAllocate(t *testing.T) {
	_, err := Load(context.Background(), emptyModule, nil)
	if !errors.Is(err, ErrModuleLoad) {
		t.Fatalf("err = %v, want ErrModuleLoad", err)
	}
}

// TestHostCallRoundTrip drives the full guest → host → guest path: the
// guest passes a {method, params} blob to host_call and reads the
// caller's payload back out of its own memory.
func TestHostCallRoundTrip(t *testing.T) {
	ctx := context.Background()
	caller := &stubCaller{payload: json.RawMessage(`{"balance":42}`)}

	mod, err := Load(ctx, guestModule, caller)
	if err != nil {
		t.Fatalf("load guest: %v", err)
	}
	defer mod.Close(ctx)

	out := invokeGuest(t, mod, []byte(`{"method":"get_balance","params":["acct-1"]}`))
	if string(out) != `{"balance":42}` {
		t.Fatalf("guest read %s, want %s", out, `{"balance":42}`)
	}
	if caller.method != "get_balance" {
		t.Fatalf("method = %q, want %q", caller.method, "get_balance")
	}
	if string(caller.params) != `["acct-1"]` {
		t.Fatalf("params = %s, want %s", caller.params, `["acct-1"]`)
	}
}

// TestHostCallDeliversErrorBlob: a failing caller does not trap the
// guest; the failure comes back as an {"error": ...} blob.
func TestHostCallDeliversErrorBlob(t *testing.T) {
	ctx := context.Background()
	caller := &stubCaller{err: errors.New("daemon offline")}

	mod, err := Load(ctx, guestModule, caller)
	if err != nil {
		t.Fatalf("load guest: %v", err)
	}
	defer mod.Close(ctx)

	out := invokeGuest(t, mod, []byte(`{"method":"sign","params":null}`))
	var decoded struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode error blob %s: %v", out, err)
	}
	if decoded.Error != "daemon offline" {
		t.Fatalf("error = %q, want %q", decoded.Error, "daemon offline")
	}
}

// TestHostCallRejectsMalformedRequest: a request blob that is not valid
// JSON yields an error blob without reaching the caller.
func TestHostCallRejectsMalformedRequest(t *testing.T) {
	ctx := context.Background()
	caller := &stubCaller{payload: json.RawMessage(`"ok"`)}

	mod, err := Load(ctx, guestModule, caller)
	if err != nil {
		t.Fatalf("load guest: %v", err)
	}
	defer mod.Close(ctx)

	out := invokeGuest(t, mod, []byte(`not json`))
	var decoded struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode error blob %s: %v", out, err)
	}
	if decoded.Error == "" {
		t.Fatal("expected a non-empty error for a malformed request")
	}
	if caller.method != "" {
		t.Fatalf("caller reached with method %q, want none", caller.method)
	}
}

func TestPackEncodesPointerAndLength(t *testing.T) {
	packed := pack(0x1000, 42)
	if ptr := uint32(packed >> 32); ptr != 0x1000 {
		t.Fatalf("ptr = %#x, want %#x", ptr, 0x1000)
	}
	if size := uint32(packed); size != 42 {
		t.Fatalf("size = %d, want 42", size)
	}
}

func TestErrorBlobShape(t *testing.T) {
	var decoded struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(errorBlob("boom"), &decoded); err != nil {
		t.Fatalf("decode error blob: %v", err)
	}
	if decoded.Error != "boom" {
		t.Fatalf("error = %q, want %q", decoded.Error, "boom")
	}
}

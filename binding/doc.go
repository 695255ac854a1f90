// Package binding loads wasm builds of the measurement module and
// exposes their recovered C surface as typed Go calls.
//
// Load compiles and instantiates one build under wazero with WASI
// preview 1 and an optional corpus mount, then resolves the exported
// entry points and the build's allocator. NewModule wraps the result
// with accessors that handle marshalling: wide-character paths, in/out
// count pointers, sample buffers and raw property records.
//
// The package never interprets status codes. Whatever the module
// returns, including its negative error statuses, flows back to the
// caller as data so both builds can be compared verbatim.
package binding

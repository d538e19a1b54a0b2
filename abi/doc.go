// Package abi defines the versioned contract between the host runtime and
// compiled script modules.
//
// Everything that crosses the module boundary is plain fixed-layout data:
// explicit-width integers, IEEE floats, and (pointer, length) pairs into the
// module's own linear memory. Handles and instance ids travel as u64 words.
// The contract is expressed as WIT signature text; the loader validates a
// module's exports against the flattened core-wasm form of these signatures
// and rejects anything whose abi-version probe falls outside
// [MinSupportedVersion, MaxSupportedVersion].
//
// Host-side calls exposed to scripts (the jump table) are all non-blocking
// and return a Status; none of them mutates host state synchronously. They
// only append to the frame's event queue.
package abi

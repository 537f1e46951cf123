// Package ir provides the canonical value representation used for traces,
// golden files and CLI payloads.
//
// Field values tracked by the unit of work are arbitrary Go values. Before
// they leave the process (a harness trace, a JSON CLI response) they are
// converted to IRValue with FromGo and serialized with MarshalCanonical, so
// the same run always produces byte-identical output.
//
// Key design constraints:
//   - ir imports nothing internal
//   - object keys are ordered by UTF-16 code units
//   - strings are NFC normalized at the serialization boundary
//   - integral floats collapse to integers so 10 and 10.0 render the same
package ir

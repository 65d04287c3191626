// Package util provides small helpers shared by the codec, the dump tooling
// and the benchmark command.
//
// The package contains:
//   - hash: a seeded FNV-1a string hash used to derive stable type tags
//   - stats: summary statistics over float samples and a SizeHistogram for
//     record and stream sizes
package util

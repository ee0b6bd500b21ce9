// Package fs abstracts the file system operations behind local snapshot
// writes so that tests can inject I/O failures.
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: wrapper failing writes, syncs, closes or renames of
//     matching files
//
// Tests inject a [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("index.snap", fs.Fault{FailAfterBytes: 1024})
package fs

// Package native defines the engine boundary the index facade talks to and
// ships an in-process engine behind it.
//
// The Engine interface mirrors a C-style ANN library surface: labels are
// caller-assigned 64-bit ids, search fills caller-provided label and
// distance slices and hands back one memory region per result, and every
// failure carries the name of the operation that produced it (*Error).
//
// Regions handed out by Item and Search belong to the engine. They are
// returned as wrapped buffers whose Release drops the engine's pin; the
// backing memory stays mapped until the last such buffer is released, even
// if the engine is destroyed or reloaded in the meantime.
package native

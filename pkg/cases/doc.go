// Package cases holds the cases a driver runs and the places they come
// from and go to.
//
// A Case is a labelled set of named input values to apply to a model and the
// names of the outputs to read back once it has run. Iterators supply cases
// (from a slice, a CSV file or a previous run in the store); recorders
// receive them after execution (into memory, a text dump, a CSV file or the
// store). A CSV file written by CSVRecorder can be read back by CSVIterator,
// so a recorded sweep can be replayed.
package cases

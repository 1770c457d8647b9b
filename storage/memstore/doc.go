// Package memstore is an in-process reference implementation of
// assembler.Storage: a bounded per-(user,channel) message ring held
// entirely in memory. It exists to give cmd/jakeyflowd something concrete
// to run against without a database dependency; a production deployment is
// expected to supply its own Storage backed by whatever it already
// persists conversations in.
package memstore

//go:build sqlite_vec && cgo

package store

// Under this build ("-tags sqlite_vec" with cgo enabled), init_vec.go's
// blank import of github.com/asg017/sqlite-vec-go-bindings/cgo pulls in
// github.com/mattn/go-sqlite3 transitively, whose own init() registers
// the "sqlite3" driver. Open uses that driver so the real sqlite-vec
// extension loads on every connection.
const sqlDriverName = "sqlite3"

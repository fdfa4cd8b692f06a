//go:build !(sqlite_vec && cgo)

package store

// Default build: no cgo, no real sqlite-vec extension. vec_compat.go's
// import of modernc.org/sqlite registers the "sqlite" driver (its pure-Go
// vec0 compat shim stands in for the real extension; see detectVecExtension).
const sqlDriverName = "sqlite"

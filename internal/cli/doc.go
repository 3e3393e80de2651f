// Package cli implements the umbra command line: establishing, inspecting
// and clearing a session, solving puzzles on the worker pool and running
// the reference session server.
//
// Every command loads its configuration through the config package, so
// flags override UMBRA_* environment variables, which override the
// config file.
package cli

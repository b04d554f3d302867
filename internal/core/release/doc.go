// Package release contains pure functions for planning a project release:
// resource naming, service ordering, and container plan construction from
// a parsed compose spec. The shell executes these plans against the
// Docker engine.
package release

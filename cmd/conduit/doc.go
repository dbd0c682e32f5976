// Command conduit is the CLI for inspecting and managing the conduitd media
// pipeline daemon over its HTTP API.
package main

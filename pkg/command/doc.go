// Package command is the uniform dispatch surface consumed by the CLI,
// HTTP and tool shells. Each command declares a parameter schema and a
// handler over the service bundle; dispatch validates and coerces
// arguments, runs the handler and maps errors into a CommandResult.
package command

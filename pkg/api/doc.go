// Package api is the JSON-over-HTTP shell: one generic command
// endpoint, session issuance for workers, health, metrics and tool
// descriptors.
package api

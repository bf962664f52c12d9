// Package agent answers "who is working on what". Agents have no
// persistent identity; the set of running leases is the set of active
// agents.
package agent

// Package device holds the agent's device registry: provisioned devices,
// the groups they are provisioned through, and the command queue of
// polling devices.
//
// Every store comes in a transient in-memory flavour and a SQLite flavour
// backed by the migrations in the top-level migrations package. Stores hand
// out deep copies, so callers may mutate what they get back.
package device

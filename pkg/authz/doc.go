// Package authz provides role-based authorization over a statically
// constructed route table.
//
// Protected routes are declared as plain data: a list of method+path
// patterns with the role names each requires. One middleware consults the
// table for every request; unlisted routes pass through unauthenticated.
// There is no reflection and no handler scanning; the table in the wiring
// code is the complete, reviewable authorization surface.
package authz

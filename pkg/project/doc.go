// Package project implements project lifecycle management. Projects are
// the organizational unit owning task types and tasks; every downstream
// service gates its operations through ValidateAccess here.
package project

// Package netlink reports whether the host has a usable network link.
//
// It stands in for a browser's online/offline events: the state is derived
// by polling the host's interfaces, and changes are delivered on a channel.
// A link being up says nothing about whether the FHIR server answers; that
// is the reachability probe's job.
package netlink

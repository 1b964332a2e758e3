// Package main provides the go-match CLI, which checks that the signing
// certificates and provisioning profiles in a shared storage directory are
// still valid on the Apple Developer Portal.
//
// For the library API, see the match subpackage:
//
//	import "github.com/aluedeke/go-match/pkg/match"
//
// # Installation
//
// Install the CLI:
//
//	go install github.com/aluedeke/go-match@latest
package main

//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the
// campusauth store interfaces. It is designed for deployment on Google
// Cloud Platform and supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - Principal: accounts keyed by principal id
//   - PrincipalUsername, PrincipalEmail: uniqueness index entities
//   - FederatedLink: keyed by "provider:subject"
//   - Challenge: the outstanding second-factor challenge, keyed by principal id
//   - ResetToken: keyed by token hash
//   - ResetIndex: points at the live reset token of a principal
//
// Every read-check-write runs in a Datastore transaction. Conflicting
// transactions are retried by the client, which is what gives the
// single-use operations exactly one winner.
//
// # Namespacing
//
// Pass a namespace when creating stores to isolate data between tenants:
//
//	principals := gae.NewPrincipalStore(client, "campus-north")
//	challenges := gae.NewChallengeStore(client, "campus-north")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	principals := gae.NewPrincipalStore(client, "") // default namespace
package gae

//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the campusauth store
// interfaces. It works with any database GORM supports (PostgreSQL, MySQL,
// SQLite, etc.) and is the backend to use when several auth servers share
// one relational database.
//
// # Database Schema
//
// AutoMigrate creates the following tables:
//   - principals: accounts, credential hashes and second-factor settings
//   - federated_links: (provider, subject) to principal mappings
//   - challenges: the outstanding second-factor challenge per principal
//   - reset_tokens: hashed password reset tokens
//
// Single-use guarantees come from conditional deletes and updates whose
// affected row count decides the winner, so they hold across processes.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	_ = gormstore.AutoMigrate(db)
//	principals := gormstore.NewPrincipalStore(db)
//	challenges := gormstore.NewChallengeStore(db)
package gorm

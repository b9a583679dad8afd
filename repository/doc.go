// Package repository implements the socialauth stores on top of Bun, for
// sqlite and postgres.
//
// Every uniqueness guarantee is a table constraint: links are unique on
// (provider, uid), nonces on the whole triple, associations on
// (server_url, handle). Inserts use ON CONFLICT so the check and the write
// are one statement.
//
// Use Migrate to create the tables from the embedded migrations.
package repository

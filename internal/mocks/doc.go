// Package mocks provides shared test doubles for the store and task
// interfaces. The store fakes keep real in-memory state so lifecycle
// tests exercise actual reads after writes; per-method Fn hooks allow
// individual tests to inject failures.
package mocks

// Package testsupport provides config, ledger, and image fixtures shared by
// package tests.
package testsupport

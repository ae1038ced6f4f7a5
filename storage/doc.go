// Package storage defines the persistence contracts for the OAuth bridging
// proxy: registered clients, pending authorization transactions, and
// proxy-issued one-time codes.
//
// All three tables are shared by many concurrent callers. Implementations must
// make lookups, inserts, and in particular the check-then-delete consumption
// operations (ConsumeTransaction, ConsumeCode) atomic.
package storage

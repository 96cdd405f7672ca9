// Package retry runs operations under a bounded retry policy.
//
// A Machine moves through Attempting, BackingOff, Exhausted and Succeeded.
// Delays are taken through a Clock so tests can observe every backoff
// without sleeping.
package retry

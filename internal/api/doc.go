// Package api exposes the wallet session state, the transaction draft and the
// submission endpoints over HTTP so thin clients can render from a single
// published state.
package api

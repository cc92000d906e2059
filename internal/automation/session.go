// Package automation drives a browser-automation chat session: it submits
// queries under a bound account's credentials, waits for each rendered
// response to stabilize, and collects the response text plus any citations.
package automation

import (
	"context"
	"errors"
)

// ErrSessionExpired reports that the account's credentials were rejected
// before any query ran. It is distinct from per-query failures: the bound
// account needs administrative attention, the queries themselves are fine
// to run elsewhere.
var ErrSessionExpired = errors.New("automation session expired")

// Credentials bind a session to one account.
type Credentials struct {
	AccountLabel string
	SessionToken string
}

// QueryResult is one query's outcome. Either Error is empty and Text and
// Citations hold the response, or Error names what went wrong for this
// query alone.
type QueryResult struct {
	Query     string   `json:"query"`
	Text      string   `json:"text,omitempty"`
	Citations []string `json:"citations,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Failed reports whether this query produced no usable response.
func (r QueryResult) Failed() bool { return r.Error != "" }

// Session runs an ordered list of queries against the chat service.
//
// Run returns ErrSessionExpired (possibly wrapped) when the session is
// unusable before the first query; in that case no QueryResults exist.
// Otherwise it returns one QueryResult per input query, in order, with
// individual failures recorded per result rather than aborting the batch.
type Session interface {
	Run(ctx context.Context, creds Credentials, queries []string) ([]QueryResult, error)
}

package server

import "github.com/akitorahayashi/jlo/internal/ledger"

type runList struct {
	Items []ledger.Run `json:"items"`
}

// eventPage is one page of ledger events. NextCursor is zero on the last page.
type eventPage struct {
	Items      []ledger.Event `json:"items"`
	NextCursor int64          `json:"next_cursor,omitempty"`
}

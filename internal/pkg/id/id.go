package id

import (
	"github.com/oklog/ulid/v2"
)

// New returns a fresh ULID string. ULIDs sort by creation time, which keeps
// user ids usable as DynamoDB partition keys and readable in logs.
func New() string {
	return ulid.Make().String()
}

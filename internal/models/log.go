package models

import "time"

type EntryKind string

const (
	EntryInfo    EntryKind = "info"
	EntryRequest EntryKind = "request"
	EntryResult  EntryKind = "result"
	EntryError   EntryKind = "error"
)

type LogEntry struct {
	Seq    int
	Time   time.Time
	Kind   EntryKind
	Text   string
	Result *InvocationResult // set for EntryResult
}

package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

type RecordKind string

const (
	KindGrade    RecordKind = "grade"
	KindHomework RecordKind = "homework"
	KindSchedule RecordKind = "schedule"
)

// Kinds lists every record kind in the order reconciliation walks them.
var Kinds = []RecordKind{KindGrade, KindHomework, KindSchedule}

// Record is one extracted fact. AccountID, Kind, Subject, Date and Slot
// identify the record, the remaining fields are the kind-specific
// mutable content that participates in the content hash.
type Record struct {
	AccountID string     `json:"account_id"`
	Kind      RecordKind `json:"kind"`
	Subject   string     `json:"subject"`
	Date      time.Time  `json:"date"`
	Slot      int        `json:"slot"`

	// grade
	Score    string `json:"score,omitempty"`
	WorkType string `json:"work_type,omitempty"`
	// homework
	Text string `json:"text,omitempty"`
	Done bool   `json:"done,omitempty"`
	// schedule
	StartEnd string `json:"start_end,omitempty"`
	Room     string `json:"room,omitempty"`
}

// Key is the record's natural key. It is built from the normalized
// subject so the same lesson keeps the same key across page re-renders
// that only reformat the subject name.
func (r Record) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d",
		r.Kind, NormalizeSubject(r.Subject), r.Date.Format(time.DateOnly), r.Slot)
}

// ContentHash digests the mutable fields. Two records with equal keys
// and equal hashes are the same fact, nothing needs publishing.
func (r Record) ContentHash() string {
	h := sha256.New()
	for _, field := range []string{
		r.Score,
		r.WorkType,
		r.Text,
		strconv.FormatBool(r.Done),
		r.StartEnd,
		r.Room,
	} {
		h.Write([]byte(field))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Range is an inclusive date window a fetched page is authoritative
// for. Records of Kind outside every covered range are never deleted,
// their pages may simply not have been fetched this run.
type Range struct {
	Kind RecordKind
	From time.Time
	To   time.Time
}

func (r Range) Contains(kind RecordKind, date time.Time) bool {
	if kind != r.Kind {
		return false
	}
	// dates are portal-local midnights throughout, day granularity is
	// enough
	day := date.Format(time.DateOnly)
	return day >= r.From.Format(time.DateOnly) && day <= r.To.Format(time.DateOnly)
}

type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

type ChangeItem struct {
	Op     Op
	Record Record
}

// ChangeSet is the ordered output of reconciliation: inserts and
// updates by key ascending, deletes last.
type ChangeSet []ChangeItem

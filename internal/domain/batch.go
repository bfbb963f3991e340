package domain

import (
	"fmt"
	"strings"
	"time"
)

// ItemStatus is the delivery state of a single batch item.
type ItemStatus string

const (
	ItemStatusPending ItemStatus = "PENDING"
	ItemStatusSent    ItemStatus = "SENT"
	ItemStatusFailed  ItemStatus = "FAILED"
)

func (s ItemStatus) String() string { return string(s) }

func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusSent, ItemStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusSent || s == ItemStatusFailed
}

func ParseItemStatusFromString(s string) (ItemStatus, error) {
	st := ItemStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid item status %q", ErrValidation, s)
	}
	return st, nil
}

// BatchStatus is derived from item statuses and never stored.
type BatchStatus string

const (
	BatchStatusInProgress     BatchStatus = "IN_PROGRESS"
	BatchStatusCompleted      BatchStatus = "COMPLETED"
	BatchStatusPartialFailure BatchStatus = "PARTIAL_FAILURE"
	BatchStatusFailed         BatchStatus = "FAILED"
)

func (s BatchStatus) String() string { return string(s) }

// Trigger records which entry point planned a batch.
type Trigger string

const (
	TriggerManual    Trigger = "MANUAL"
	TriggerScheduled Trigger = "SCHEDULED"
)

func (t Trigger) String() string { return string(t) }

func (t Trigger) IsValid() bool {
	return t == TriggerManual || t == TriggerScheduled
}

// StatusCount is the number of items of a batch in one status.
type StatusCount struct {
	Status ItemStatus
	Count  int
}

// DeriveBatchStatus folds item status counts into the batch status.
// Pending items win over failures: a batch is not finished while anything is still pending.
func DeriveBatchStatus(counts []StatusCount) BatchStatus {
	var pending, sent, failed int
	for _, c := range counts {
		switch c.Status {
		case ItemStatusPending:
			pending += c.Count
		case ItemStatusSent:
			sent += c.Count
		case ItemStatusFailed:
			failed += c.Count
		}
	}

	switch {
	case pending > 0:
		return BatchStatusInProgress
	case failed == 0:
		return BatchStatusCompleted
	case sent == 0:
		return BatchStatusFailed
	default:
		return BatchStatusPartialFailure
	}
}

// CountItemStatuses groups items by status in PENDING, SENT, FAILED order, skipping empty groups.
func CountItemStatuses(items []BatchItem) []StatusCount {
	byStatus := make(map[ItemStatus]int, 3)
	for i := range items {
		byStatus[items[i].Status]++
	}

	counts := make([]StatusCount, 0, len(byStatus))
	for _, st := range []ItemStatus{ItemStatusPending, ItemStatusSent, ItemStatusFailed} {
		if n := byStatus[st]; n > 0 {
			counts = append(counts, StatusCount{Status: st, Count: n})
		}
	}
	return counts
}

// Batch is one planned send covering a date range, fanned out to a recipient set.
type Batch struct {
	ID          string
	Sequence    int64
	DateFrom    time.Time
	DateTo      time.Time
	Trigger     Trigger
	InitiatedBy *string
	CreatedAt   time.Time
}

// BatchItem is one recipient's unit of work within a batch.
type BatchItem struct {
	ID                  string
	BatchID             string
	RecipientID         string
	RecipientEmail      string
	Sequence            int
	EntryIDs            []string
	IncludeCertificates bool
	Status              ItemStatus
	Error               *string
	SentAt              *time.Time
	ArtifactKey         *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ArtifactFilename is the attachment/download name of an item's composed PDF.
func ArtifactFilename(batchSequence int64, itemSequence int) string {
	return fmt.Sprintf("fuel-deliveries-B%05d-%03d.pdf", batchSequence, itemSequence)
}

// DateRange is an inclusive time window.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("%w: dateFrom and dateTo are required", ErrValidation)
	}
	if r.From.After(r.To) {
		return fmt.Errorf("%w: dateFrom must not be after dateTo", ErrValidation)
	}
	return nil
}

// Overlaps reports whether two inclusive ranges share at least one instant.
func (r DateRange) Overlaps(other DateRange) bool {
	return !r.From.After(other.To) && !other.From.After(r.To)
}

// DayRange returns the inclusive range covering the calendar days of from and to in their location.
func DayRange(from, to time.Time) DateRange {
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, to.Location()).
		AddDate(0, 0, 1).Add(-time.Nanosecond)
	return DateRange{From: start, To: end}
}

// PreviousDay returns the inclusive range of the calendar day before now in loc.
func PreviousDay(now time.Time, loc *time.Location) DateRange {
	if loc == nil {
		loc = time.UTC
	}
	yesterday := now.In(loc).AddDate(0, 0, -1)
	return DayRange(yesterday, yesterday)
}

// DedupeIDs trims ids and removes blanks and duplicates, keeping first-seen order.
func DedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package schedule

import (
	"fmt"
	"sync"

	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

type resolvedKey struct {
	ChannelID string
	Date      dateKey
}

// ResolvedStore holds one ResolvedScheduleDay per (channel, date). Writes
// are atomic-replace only, never update-in-place: Put
// rejects a second write for an existing key unless ForceReplace or
// OperatorOverride is set.
type ResolvedStore struct {
	mu   sync.Mutex
	days map[resolvedKey]ResolvedScheduleDay
}

// NewResolvedStore builds an empty ResolvedStore.
func NewResolvedStore() *ResolvedStore {
	return &ResolvedStore{days: make(map[resolvedKey]ResolvedScheduleDay)}
}

// PutOptions controls the second-write exception.
type PutOptions struct {
	ForceReplace     bool
	OperatorOverride bool
}

// Put atomically writes a resolved day. A second write for the same
// (channel, date) is rejected unless ForceReplace or OperatorOverride is
// set. Rejection is synchronous and leaves the store untouched.
func (s *ResolvedStore) Put(day ResolvedScheduleDay, opts PutOptions) error {
	key := resolvedKey{ChannelID: day.ChannelID, Date: NewDateKey(day.Date)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.days[key]; exists && !opts.ForceReplace && !opts.OperatorOverride {
		return &PlanningFault{
			Code:   telemetry.ProtocolViolation,
			Detail: fmt.Sprintf("resolved day for channel %q date %s already exists", day.ChannelID, key.Date),
		}
	}
	s.days[key] = day
	return nil
}

// Get returns the resolved day for (channelID, date), if any.
func (s *ResolvedStore) Get(channelID string, date dateKey) (ResolvedScheduleDay, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.days[resolvedKey{ChannelID: channelID, Date: date}]
	return d, ok
}

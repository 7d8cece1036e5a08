package bridge

import (
	"sync"
	"time"
)

// StatsSnapshot is a point-in-time copy of the bridge counters.
type StatsSnapshot struct {
	MessagesReceived    int64      `json:"messages_received"`
	MessagesRepublished int64      `json:"messages_republished"`
	MessagesStored      int64      `json:"messages_stored_db"`
	LiveDropped         uint64     `json:"live_dropped"`
	Errors              int64      `json:"errors"`
	LastError           string     `json:"last_error,omitempty"`
	LastMessageTime     *time.Time `json:"last_message_time,omitempty"`
	LastWriteTime       *time.Time `json:"last_db_write_time,omitempty"`
	SessionID           string     `json:"current_session_id"`
	SessionLabel        string     `json:"current_session_name"`
	SessionStart        time.Time  `json:"session_start_time"`
	BufferLen           int        `json:"buffer_len"`
	LiveQueueLen        int        `json:"live_queue_len"`
}

// Stats tracks bridge counters with thread-safe operations.
type Stats struct {
	mu                  sync.Mutex
	messagesReceived    int64
	messagesRepublished int64
	messagesStored      int64
	errors              int64
	lastError           string
	lastMessageTime     time.Time
	lastWriteTime       time.Time
}

// AddReceived records one ingested message at the given time.
func (st *Stats) AddReceived(now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.messagesReceived++
	st.lastMessageTime = now
}

// AddRepublished records n successfully republished samples.
func (st *Stats) AddRepublished(n int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.messagesRepublished += int64(n)
}

// AddStored records n durably written rows at the given time.
func (st *Stats) AddStored(n int, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.messagesStored += int64(n)
	st.lastWriteTime = now
}

// RecordError bumps the error counter and keeps the message for operators.
func (st *Stats) RecordError(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.errors++
	st.lastError = err.Error()
}

func (st *Stats) snapshot() StatsSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	snap := StatsSnapshot{
		MessagesReceived:    st.messagesReceived,
		MessagesRepublished: st.messagesRepublished,
		MessagesStored:      st.messagesStored,
		Errors:              st.errors,
		LastError:           st.lastError,
	}
	if !st.lastMessageTime.IsZero() {
		t := st.lastMessageTime
		snap.LastMessageTime = &t
	}
	if !st.lastWriteTime.IsZero() {
		t := st.lastWriteTime
		snap.LastWriteTime = &t
	}
	return snap
}

package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State 文档在一次处理中的状态
type State string

const (
	StateUnseen    State = "unseen"
	StateQueued    State = "queued"
	StateReading   State = "reading"
	StateChunking  State = "chunking"
	StateEmbedding State = "embedding"
	StateUpserting State = "upserting"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// validTransitions 合法的状态转换，FAILED可由任意非终态进入
var validTransitions = map[State][]State{
	StateUnseen:    {StateQueued, StateFailed},
	StateQueued:    {StateReading, StateChunking, StateUpserting, StateFailed},
	StateReading:   {StateChunking, StateDone, StateFailed},
	StateChunking:  {StateEmbedding, StateFailed},
	StateEmbedding: {StateUpserting, StateFailed},
	StateUpserting: {StateDone, StateFailed},
	StateDone:      {StateQueued},
	StateFailed:    {StateQueued},
}

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// DocumentState 文档最近一次处理的状态
type DocumentState struct {
	DocID     string    `json:"doc_id"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusManager 文档状态管理器
// 只在内存中跟踪处理进度，是否已处理以处理记录为准
type StatusManager struct {
	mu     sync.RWMutex
	states map[string]DocumentState
	logger *logrus.Logger
	now    func() time.Time
}

// NewStatusManager 创建状态管理器
func NewStatusManager(logger *logrus.Logger) *StatusManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StatusManager{
		states: make(map[string]DocumentState),
		logger: logger,
		now:    time.Now,
	}
}

// ValidateStateTransition 验证状态转换的有效性
func ValidateStateTransition(from, to State) error {
	for _, next := range validTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition from %s to %s", from, to)
}

// Transition 转换文档状态
func (m *StatusManager) Transition(docID string, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.stateLocked(docID)
	if err := ValidateStateTransition(current.State, to); err != nil {
		return fmt.Errorf("document %s: %w", docID, err)
	}

	m.states[docID] = DocumentState{DocID: docID, State: to, UpdatedAt: m.now()}
	m.logger.WithFields(logrus.Fields{
		"doc_id": docID,
		"from":   current.State,
		"to":     to,
	}).Debug("Document state changed")
	return nil
}

// Fail 将文档标记为失败，已处于终态时不变
func (m *StatusManager) Fail(docID string, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.stateLocked(docID)
	if current.State.Terminal() {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	m.states[docID] = DocumentState{DocID: docID, State: StateFailed, Error: msg, UpdatedAt: m.now()}
}

// Get 获取文档状态，未跟踪时为UNSEEN
func (m *StatusManager) Get(docID string) DocumentState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked(docID)
}

func (m *StatusManager) stateLocked(docID string) DocumentState {
	if s, ok := m.states[docID]; ok {
		return s
	}
	return DocumentState{DocID: docID, State: StateUnseen}
}

// Forget 删除文档状态
func (m *StatusManager) Forget(docID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, docID)
}

// Snapshot 返回所有被跟踪文档的状态，按ID排序
func (m *StatusManager) Snapshot() []DocumentState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DocumentState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out
}

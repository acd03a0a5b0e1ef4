package sync

import (
	"context"
	"sync"

	"github.com/courserelay/courserelay/internal/model"
)

// --- Mock Catalog Source -----------------------------------------------------

type mockSource struct {
	mu         sync.Mutex
	page       *model.ModulePage
	byID       map[string]model.Module
	pageErr    error
	byIDErr    error
	pageCalls  int
	byIDCalls  int
	lastFilter map[string]string
}

func newMockSource(modules ...model.Module) *mockSource {
	m := &mockSource{byID: make(map[string]model.Module)}
	m.page = &model.ModulePage{Items: modules, Total: len(modules), Page: 1, Limit: 20}
	for _, mod := range modules {
		m.byID[mod.ID] = mod
	}
	return m
}

func (m *mockSource) FetchPage(_ context.Context, filters map[string]string) (*model.ModulePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pageCalls++
	m.lastFilter = filters
	if m.pageErr != nil {
		return nil, m.pageErr
	}
	cp := *m.page
	cp.Items = make([]model.Module, len(m.page.Items))
	copy(cp.Items, m.page.Items)
	return &cp, nil
}

func (m *mockSource) FetchByID(_ context.Context, id string) (*model.Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byIDCalls++
	if m.byIDErr != nil {
		return nil, m.byIDErr
	}
	mod, ok := m.byID[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := mod
	return &cp, nil
}

func (m *mockSource) setPageErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageErr = err
}

func (m *mockSource) setByIDErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byIDErr = err
}

func (m *mockSource) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageCalls
}

// --- Mock Action Dispatcher --------------------------------------------------

// dispatchRecord captures one dispatcher call for order assertions.
type dispatchRecord struct {
	kind string
	id   string
}

type mockDispatcher struct {
	mu    sync.Mutex
	calls []dispatchRecord
	// errFor maps a lesson/quiz/module ID to the error its call returns.
	errFor map[string]error
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{errFor: make(map[string]error)}
}

func (m *mockDispatcher) failWith(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errFor[id] = err
}

func (m *mockDispatcher) record(kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, dispatchRecord{kind: kind, id: id})
	return m.errFor[id]
}

func (m *mockDispatcher) CompleteLesson(_ context.Context, lessonID string) error {
	return m.record("complete", lessonID)
}

func (m *mockDispatcher) SubmitQuiz(_ context.Context, quizID string, _ []int, _ int) error {
	return m.record("quiz", quizID)
}

func (m *mockDispatcher) UpdateProgress(_ context.Context, lessonID string, _ float64) error {
	return m.record("progress", lessonID)
}

func (m *mockDispatcher) EnrollModule(_ context.Context, moduleID string) error {
	return m.record("enroll", moduleID)
}

func (m *mockDispatcher) recorded() []dispatchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]dispatchRecord, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// --- Stub Reachability -------------------------------------------------------

type stubNet struct {
	mu     sync.Mutex
	online bool
	subs   []func(bool)
}

func newStubNet(online bool) *stubNet {
	return &stubNet{online: online}
}

func (s *stubNet) Current() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *stubNet) OnChange(fn func(online bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// flip changes connectivity and notifies subscribers, like a real monitor
// observing a transition.
func (s *stubNet) flip(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	subs := make([]func(bool), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

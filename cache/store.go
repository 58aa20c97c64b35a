package cache

import (
	"fmt"
	"sync"

	"meerkat/model"
	"meerkat/utils/log"
)

// Fetcher : 키 하나를 네트워크에서 새로 가져온다. Store가 백그라운드 고루틴에서 부른다.
type Fetcher func(key model.FetchKey) (*model.SeriesSnapshot, error)

// Listener : 해당 키의 refresh가 정착(settle)했을 때 호출 — 성공이면 새 스냅샷,
// stale 유지 실패면 기존 스냅샷이 다시 전달된다. 락 없이 호출되므로
// 리스너 쪽에서 자기 컨텍스트로 넘겨야 한다.
type Listener func(snapshot *model.SeriesSnapshot)

// FetchError : 스냅샷이 아직 없는 키의 첫 로드 실패에만 표면화되는 에러
type FetchError struct {
	Key model.FetchKey
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Store : (symbol, timeframe, lookback) 키별 스냅샷 캐시.
// stale-while-revalidate — Request는 캐시된 값을 즉시 돌려주고 백그라운드 refresh를
// 키당 최대 1개만 띄운다. 엔트리는 세션 동안 evict되지 않는다.
type Store struct {
	mu        sync.Mutex
	fetcher   Fetcher
	entries   map[model.FetchKey]*entry
	nextSubID int64
}

type entry struct {
	snapshot  *model.SeriesSnapshot
	inflight  bool
	listeners map[int64]Listener
}

func NewStore(fetcher Fetcher) *Store {
	return &Store{
		fetcher: fetcher,
		entries: make(map[model.FetchKey]*entry),
	}
}

// Get : 캐시된 스냅샷 조회만. refresh를 트리거하지 않는다.
func (s *Store) Get(key model.FetchKey) (*model.SeriesSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.snapshot == nil {
		return nil, false
	}
	return e.snapshot, true
}

// Request : 캐시된 스냅샷을 즉시 반환(없으면 nil)하고, in-flight refresh가 없을 때만
// 백그라운드 refresh를 시작한다. onErr는 스냅샷이 아직 없는 키의 첫 로드 실패에만
// 호출된다. 이미 값이 있으면 실패는 로그만 남기고 stale 유지.
func (s *Store) Request(key model.FetchKey, onErr func(error)) *model.SeriesSnapshot {
	s.mu.Lock()
	e := s.ensureEntry(key)
	cached := e.snapshot
	start := !e.inflight
	if start {
		e.inflight = true
	}
	s.mu.Unlock()

	if start {
		go s.refresh(key, onErr, false)
	}
	return cached
}

// Warm : 미리 데워두기. 실패는 캐시 상태와 무관하게 항상 삼킨다.
func (s *Store) Warm(key model.FetchKey) {
	s.mu.Lock()
	e := s.ensureEntry(key)
	start := !e.inflight
	if start {
		e.inflight = true
	}
	s.mu.Unlock()

	if start {
		go s.refresh(key, nil, true)
	}
}

func (s *Store) refresh(key model.FetchKey, onErr func(error), warm bool) {
	snapshot, err := s.fetcher(key)
	if err != nil {
		s.mu.Lock()
		e := s.entries[key]
		e.inflight = false
		stale := e.snapshot
		listeners := s.snapshotListeners(e)
		s.mu.Unlock()

		if warm || stale != nil {
			// stale이 disruption보다 낫다. 단, 요청자가 Refreshing 같은
			// 중간 상태에 갇히지 않게 stale 스냅샷으로 정착을 알린다.
			log.Warnf("[cache] refresh failed for %s, keeping stale: %v", key, err)
			if !warm && stale != nil {
				for _, fn := range listeners {
					fn(stale)
				}
			}
			return
		}
		log.Errorf("[cache] first load failed for %s: %v", key, err)
		if onErr != nil {
			onErr(&FetchError{Key: key, Err: err})
		}
		return
	}

	snapshot.Key = key
	snapshot.Normalize()

	s.mu.Lock()
	e := s.entries[key]
	e.snapshot = snapshot // 키별로 마지막 완료 쓰기가 이긴다
	e.inflight = false
	listeners := s.snapshotListeners(e)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// Subscription : 키 하나의 변경 알림 핸들. Release는 멱등.
type Subscription struct {
	store *Store
	key   model.FetchKey
	id    int64

	once sync.Once
}

func (sub *Subscription) Release() {
	if sub == nil {
		return
	}
	sub.once.Do(func() {
		sub.store.mu.Lock()
		defer sub.store.mu.Unlock()
		if e, ok := sub.store.entries[sub.key]; ok {
			delete(e.listeners, sub.id)
		}
	})
}

// Subscribe : 키의 refresh 정착 알림 구독. 반환된 핸들은 모든 exit path에서
// Release되어야 한다 (defer 권장).
func (s *Store) Subscribe(key model.FetchKey, fn Listener) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureEntry(key)
	s.nextSubID++
	e.listeners[s.nextSubID] = fn
	return &Subscription{store: s, key: key, id: s.nextSubID}
}

// InFlight : 테스트/관찰용
func (s *Store) InFlight(key model.FetchKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && e.inflight
}

// snapshotListeners : 락 안에서 복사. 호출은 락 밖에서.
func (s *Store) snapshotListeners(e *entry) []Listener {
	out := make([]Listener, 0, len(e.listeners))
	for _, fn := range e.listeners {
		out = append(out, fn)
	}
	return out
}

func (s *Store) ensureEntry(key model.FetchKey) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{listeners: make(map[int64]Listener)}
		s.entries[key] = e
	}
	return e
}

// Package store は既知の位置情報をメモリ上に保持する。
// 取得結果のマージ時に重複を除外し、更新日時の新しい順に並べ替える。
package store

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/hitoshi/onthemap/internal/model"
)

// SizeObserver は保持件数の変化を受け取る。metrics.Collectorが実装する。
type SizeObserver interface {
	SetStoredLocations(count int)
}

// Store は位置情報の順序付きコレクション。
// 全操作は排他制御されており、並行に呼び出してよい。
type Store struct {
	mu        sync.RWMutex
	locations []model.Location
	logger    *slog.Logger
	observer  SizeObserver
}

// New は空のStoreを生成する。observerはnilでもよい。
func New(logger *slog.Logger, observer SizeObserver) *Store {
	return &Store{
		logger:   logger,
		observer: observer,
	}
}

// MergeFetched は取得した位置情報のうち、まだ保持していないものだけを末尾に追加する。
// 既存の順序や既存の重複はそのまま残し、取得結果に無い項目も削除しない。
// 戻り値は追加した件数。
func (s *Store) MergeFetched(fetched []model.Location) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[model.Location]struct{}, len(s.locations)+len(fetched))
	for _, loc := range s.locations {
		seen[loc] = struct{}{}
	}

	added := 0
	for _, loc := range fetched {
		if _, ok := seen[loc]; ok {
			continue
		}
		seen[loc] = struct{}{}
		s.locations = append(s.locations, loc)
		added++
	}

	s.logger.Debug("取得した位置情報をマージしました",
		slog.Int("fetched", len(fetched)),
		slog.Int("added", added),
		slog.Int("total", len(s.locations)),
	)
	s.notify()
	return added
}

// AppendLocal はサーバー確定前の位置情報を末尾に追加する。
func (s *Store) AppendLocal(loc model.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locations = append(s.locations, loc)
	s.notify()
}

// Reconcile はpendingと等しい最後の項目に、サーバーが採番したobjectIdと作成日時を反映する。
// 確定後の値と等しい項目がすでにある場合（確定前の一覧取得でサーバー側の項目をマージ済みの場合）は、
// 重複させずにpendingの項目を削除する。
// 該当する項目が無い場合はfalseを返す。
func (s *Store) Reconcile(pending model.Location, posted model.PostedLocation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.lastIndex(pending)
	if i < 0 {
		s.logger.Warn("確定対象の位置情報が見つかりません",
			slog.String("object_id", posted.ObjectID),
		)
		return false
	}

	confirmed := pending
	confirmed.ObjectID = posted.ObjectID
	confirmed.CreatedAt = posted.CreatedAt
	confirmed.UpdatedAt = posted.CreatedAt

	if slices.Contains(s.locations, confirmed) {
		s.locations = slices.Delete(s.locations, i, i+1)
		s.logger.Debug("確定済みの項目がマージ済みのため仮の項目を削除しました",
			slog.String("object_id", posted.ObjectID),
		)
		s.notify()
		return true
	}

	s.locations[i] = confirmed
	return true
}

// Remove はlocと等しい最後の項目を削除する。該当する項目が無い場合はfalseを返す。
func (s *Store) Remove(loc model.Location) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.lastIndex(loc)
	if i < 0 {
		return false
	}
	s.locations = slices.Delete(s.locations, i, i+1)
	s.notify()
	return true
}

// SortByRecency は更新日時の降順に安定ソートする。
// 更新日時をパースできない項目は全ての項目より前に置き、それら同士の相対順序は保つ。
func (s *Store) SortByRecency() {
	s.mu.Lock()
	defer s.mu.Unlock()

	unparsable := 0
	slices.SortStableFunc(s.locations, func(a, b model.Location) int {
		return compareRecency(a.UpdatedAt, b.UpdatedAt)
	})
	for _, loc := range s.locations {
		if _, err := model.ParseTimestamp(loc.UpdatedAt); err != nil {
			unparsable++
		}
	}
	if unparsable > 0 {
		s.logger.Debug("更新日時をパースできない位置情報があります",
			slog.Int("count", unparsable),
		)
	}
}

// Snapshot は保持している位置情報のコピーを返す。
func (s *Store) Snapshot() []model.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.locations)
}

// Len は保持件数を返す。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locations)
}

func (s *Store) lastIndex(loc model.Location) int {
	for i := len(s.locations) - 1; i >= 0; i-- {
		if s.locations[i] == loc {
			return i
		}
	}
	return -1
}

func (s *Store) notify() {
	if s.observer != nil {
		s.observer.SetStoredLocations(len(s.locations))
	}
}

// compareRecency は新しい方を前に置く比較関数。パースできない値は最も新しいものとして扱う。
func compareRecency(a, b string) int {
	ta, errA := model.ParseTimestamp(a)
	tb, errB := model.ParseTimestamp(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return tb.Compare(ta)
}

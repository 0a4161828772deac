// Package location は位置情報の一覧更新と新規投稿のユースケースを提供する。
//
// 一覧の更新はバックエンドから取得した結果をストアへマージし、更新日時順に並べてから
// 登録された全てのRendererへ渡す。新規投稿はサーバーの応答を待たずにストアへ仮の項目を追加し、
// 応答が成功すればサーバー採番値で確定、失敗すれば仮の項目を取り除く。
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/onthemap/internal/model"
	"github.com/hitoshi/onthemap/internal/security"
	"github.com/hitoshi/onthemap/internal/store"
	"github.com/hitoshi/onthemap/internal/transport"
)

// 投稿結果ラベル。メトリクスに使う。
const (
	SubmissionConfirmed  = "confirmed"
	SubmissionRolledBack = "rolled_back"
	SubmissionCanceled   = "canceled"
)

var (
	// ErrNotLoggedIn はログインが必要な操作をセッションなしで呼んだ場合のエラー。
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrEmptyMapString は地名が空の場合のエラー。
	ErrEmptyMapString = errors.New("map string is required")
	// ErrInvalidCoordinate は緯度経度が範囲外の場合のエラー。
	ErrInvalidCoordinate = errors.New("coordinate is out of range")
)

// LocationClient は位置情報を扱うAPIクライアントのインターフェース。
// api.Clientが実装する。
type LocationClient interface {
	GetLocations(ctx context.Context) ([]model.Location, error)
	PostLocation(ctx context.Context, sub model.NewLocationSubmission) (model.PostedLocation, error)
	GetUser(ctx context.Context) (model.User, error)
	Session() (model.Session, bool)
}

// Geocoder は住所を座標に変換する。
type Geocoder interface {
	Geocode(ctx context.Context, address string) (model.Coordinate, error)
}

// SubmissionRecorder は投稿結果の記録先。
type SubmissionRecorder interface {
	RecordPinSubmission(result string)
}

// Renderer はストアの内容を表示する。
// Renderは任意のgoroutineから呼ばれるが、同時に複数回呼ばれることはない。
type Renderer interface {
	Render(locations []model.Location)
}

// RendererFunc は関数をRendererとして扱うためのアダプター。
type RendererFunc func(locations []model.Location)

// Render はf(locations)を呼ぶ。
func (f RendererFunc) Render(locations []model.Location) {
	f(locations)
}

// Draft は新規投稿の入力内容。
// 姓名はユーザー情報を取得できなかった場合にのみ使う。
type Draft struct {
	FirstName string
	LastName  string
	MapString string
	MediaURL  string
	Latitude  float64
	Longitude float64
}

// Service は位置情報に関するビジネスロジックを提供する。
type Service struct {
	client   LocationClient
	store    *store.Store
	geocoder Geocoder
	links    security.MediaLinkGuard
	recorder SubmissionRecorder
	logger   *slog.Logger
	now      func() time.Time

	renderMu  sync.Mutex
	renderers []Renderer
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(
	client LocationClient,
	st *store.Store,
	geocoder Geocoder,
	links security.MediaLinkGuard,
	recorder SubmissionRecorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		client:   client,
		store:    st,
		geocoder: geocoder,
		links:    links,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// AddRenderer はストア更新時に呼ばれるRendererを登録する。
func (s *Service) AddRenderer(r Renderer) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	s.renderers = append(s.renderers, r)
}

// Refresh は全学生の位置情報を取得してストアにマージし、更新日時の新しい順に並べる。
// 取得に失敗した場合、ストアは変更しない。
func (s *Service) Refresh(ctx context.Context) ([]model.Location, error) {
	fetched, err := s.client.GetLocations(ctx)
	if err != nil {
		s.logger.Warn("位置情報一覧の取得に失敗しました", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to get locations: %w", err)
	}

	added := s.store.MergeFetched(fetched)
	s.store.SortByRecency()

	s.logger.Info("位置情報一覧を更新しました",
		slog.Int("fetched", len(fetched)),
		slog.Int("added", added),
		slog.Int("total", s.store.Len()),
	)
	return s.render(), nil
}

// Locations はストアが保持している位置情報のコピーを返す。
func (s *Service) Locations() []model.Location {
	return s.store.Snapshot()
}

// FindAddress は入力された住所を座標に変換する。
func (s *Service) FindAddress(ctx context.Context, address string) (model.Coordinate, error) {
	coord, err := s.geocoder.Geocode(ctx, address)
	if err != nil {
		return model.Coordinate{}, fmt.Errorf("failed to geocode address: %w", err)
	}
	return coord, nil
}

// Submit は新規投稿を開始する。
// 入力検証とログイン確認を同期的に行い、問題があればエラーを返す。
// 問題が無ければ仮の項目をストアに追加し、投稿を非同期に実行するTaskを返す。
// completionは投稿の成否に関わらず1回だけ呼ばれ、成功時は確定した位置情報を受け取る。
// 投稿に失敗した場合、仮の項目はストアから取り除かれる。
// Taskを中断した場合は投稿がバックエンドに届いている可能性があるため、ストアは変更しない。
func (s *Service) Submit(ctx context.Context, draft Draft, completion func(model.Location, error)) (*transport.Task, error) {
	draft.MapString = strings.TrimSpace(draft.MapString)
	draft.MediaURL = strings.TrimSpace(draft.MediaURL)

	if draft.MapString == "" {
		return nil, ErrEmptyMapString
	}
	if draft.Latitude < -90 || draft.Latitude > 90 || draft.Longitude < -180 || draft.Longitude > 180 {
		return nil, ErrInvalidCoordinate
	}
	if err := s.links.ValidateMediaURL(draft.MediaURL); err != nil {
		return nil, err
	}

	session, ok := s.client.Session()
	if !ok {
		return nil, ErrNotLoggedIn
	}

	if err := s.links.CheckReachable(ctx, draft.MediaURL); err != nil {
		return nil, err
	}

	firstName, lastName := s.resolveName(ctx, draft)
	sub := model.NewLocationSubmission{
		UniqueKey: session.UserID,
		FirstName: firstName,
		LastName:  lastName,
		MapString: draft.MapString,
		MediaURL:  draft.MediaURL,
		Latitude:  draft.Latitude,
		Longitude: draft.Longitude,
	}

	pending := sub.Pending(s.now())
	s.store.AppendLocal(pending)
	s.render()

	s.logger.Debug("位置情報を投稿します",
		slog.String("unique_key", sub.UniqueKey),
		slog.String("map_string", sub.MapString),
	)

	post := func(ctx context.Context) (model.PostedLocation, error) {
		return s.client.PostLocation(ctx, sub)
	}
	done := func(posted model.PostedLocation, err error) {
		if isCanceled(err) {
			s.record(SubmissionCanceled)
			s.logger.Info("位置情報の投稿が中断されました",
				slog.String("unique_key", sub.UniqueKey),
			)
			if completion != nil {
				completion(model.Location{}, err)
			}
			return
		}
		if err != nil {
			s.store.Remove(pending)
			s.record(SubmissionRolledBack)
			s.logger.Warn("位置情報の投稿に失敗したため仮の項目を取り除きました",
				slog.String("unique_key", sub.UniqueKey),
				slog.String("error", err.Error()),
			)
			s.render()
			if completion != nil {
				completion(model.Location{}, err)
			}
			return
		}

		s.store.Reconcile(pending, posted)
		s.record(SubmissionConfirmed)
		s.render()
		if completion != nil {
			completion(sub.Confirmed(posted), nil)
		}
	}

	return transport.Go(ctx, post, done), nil
}

// resolveName はバックエンドに登録された姓名を返す。取得できない場合は入力の姓名を使う。
func (s *Service) resolveName(ctx context.Context, draft Draft) (string, string) {
	user, err := s.client.GetUser(ctx)
	if err != nil {
		s.logger.Warn("ユーザー情報を取得できなかったため入力の姓名を使います",
			slog.String("error", err.Error()),
		)
		return strings.TrimSpace(draft.FirstName), strings.TrimSpace(draft.LastName)
	}
	if user.FirstName == "" && user.LastName == "" {
		return strings.TrimSpace(draft.FirstName), strings.TrimSpace(draft.LastName)
	}
	return user.FirstName, user.LastName
}

// render は現在のストアの内容を全てのRendererへ渡し、その内容を返す。
func (s *Service) render() []model.Location {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	snapshot := s.store.Snapshot()
	for _, r := range s.renderers {
		r.Render(snapshot)
	}
	return snapshot
}

// isCanceled はTaskの中断による失敗かを返す。
func isCanceled(err error) bool {
	return transport.Kind(err) == transport.KindCanceled || errors.Is(err, context.Canceled)
}

func (s *Service) record(result string) {
	if s.recorder != nil {
		s.recorder.RecordPinSubmission(result)
	}
}

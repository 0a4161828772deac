package location

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/onthemap/internal/model"
	"github.com/hitoshi/onthemap/internal/security"
	"github.com/hitoshi/onthemap/internal/store"
	"github.com/hitoshi/onthemap/internal/transport"
)

// --- モック定義 ---

type mockLocationClient struct {
	getLocationsFn func(ctx context.Context) ([]model.Location, error)
	postLocationFn func(ctx context.Context, sub model.NewLocationSubmission) (model.PostedLocation, error)
	getUserFn      func(ctx context.Context) (model.User, error)
	sessionFn      func() (model.Session, bool)
}

func (m *mockLocationClient) GetLocations(ctx context.Context) ([]model.Location, error) {
	if m.getLocationsFn != nil {
		return m.getLocationsFn(ctx)
	}
	return []model.Location{}, nil
}

func (m *mockLocationClient) PostLocation(ctx context.Context, sub model.NewLocationSubmission) (model.PostedLocation, error) {
	if m.postLocationFn != nil {
		return m.postLocationFn(ctx, sub)
	}
	return model.PostedLocation{}, nil
}

func (m *mockLocationClient) GetUser(ctx context.Context) (model.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx)
	}
	return model.User{}, errors.New("not implemented")
}

func (m *mockLocationClient) Session() (model.Session, bool) {
	if m.sessionFn != nil {
		return m.sessionFn()
	}
	return model.Session{ID: "sess-1", Expiration: "2030-01-01T00:00:00.000Z", UserID: "user-1"}, true
}

type mockGeocoder struct {
	geocodeFn func(ctx context.Context, address string) (model.Coordinate, error)
}

func (m *mockGeocoder) Geocode(ctx context.Context, address string) (model.Coordinate, error) {
	return m.geocodeFn(ctx, address)
}

type mockRecorder struct {
	mu      sync.Mutex
	results []string
}

func (m *mockRecorder) RecordPinSubmission(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
}

// --- compile-time interface checks ---
var _ LocationClient = (*mockLocationClient)(nil)
var _ Geocoder = (*mockGeocoder)(nil)
var _ SubmissionRecorder = (*mockRecorder)(nil)
var _ Renderer = (*TableRenderer)(nil)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(client LocationClient) (*Service, *store.Store, *mockRecorder) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	st := store.New(logger, nil)
	rec := &mockRecorder{}
	geo := &mockGeocoder{geocodeFn: func(ctx context.Context, address string) (model.Coordinate, error) {
		return model.Coordinate{Latitude: 1, Longitude: 2}, nil
	}}
	svc := NewService(client, st, geo, security.NewMediaLinkGuard(false, 0), rec, logger)
	svc.now = func() time.Time { return fixedNow }
	return svc, st, rec
}

func validDraft() Draft {
	return Draft{
		FirstName: "Draft",
		LastName:  "Name",
		MapString: "Mountain View, CA",
		MediaURL:  "https://example.com/me",
		Latitude:  37.38,
		Longitude: -122.08,
	}
}

func testLocation(id, updatedAt string) model.Location {
	return model.Location{ObjectID: id, UniqueKey: "k-" + id, FirstName: id, LastName: "X", UpdatedAt: updatedAt, CreatedAt: updatedAt}
}

// --- Refresh ---

func TestRefresh_MergesSortsAndRenders(t *testing.T) {
	client := &mockLocationClient{
		getLocationsFn: func(ctx context.Context) ([]model.Location, error) {
			return []model.Location{
				testLocation("old", "2020-01-01T00:00:00.000Z"),
				testLocation("new", "2021-01-01T00:00:00.000Z"),
			}, nil
		},
	}
	svc, st, _ := newTestService(client)

	var rendered [][]model.Location
	svc.AddRenderer(RendererFunc(func(locs []model.Location) {
		rendered = append(rendered, locs)
	}))

	got, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(got) != 2 || got[0].ObjectID != "new" || got[1].ObjectID != "old" {
		t.Errorf("Refresh() = %+v", got)
	}

	// 2回目は同じ結果なので件数は増えない
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if st.Len() != 2 {
		t.Errorf("Len = %d, want 2", st.Len())
	}
	if len(rendered) != 2 {
		t.Errorf("Render 回数 = %d, want 2", len(rendered))
	}
}

func TestRefresh_Error_LeavesStoreUntouched(t *testing.T) {
	client := &mockLocationClient{
		getLocationsFn: func(ctx context.Context) ([]model.Location, error) {
			return nil, &transport.APIError{HTTPStatusCode: 500, StatusCode: 500, Message: "boom"}
		},
	}
	svc, st, _ := newTestService(client)
	st.AppendLocal(testLocation("a", ""))

	rendered := false
	svc.AddRenderer(RendererFunc(func([]model.Location) { rendered = true }))

	_, err := svc.Refresh(context.Background())
	var apiErr *transport.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want wrapped *transport.APIError", err)
	}
	if st.Len() != 1 {
		t.Errorf("Len = %d, want 1", st.Len())
	}
	if rendered {
		t.Error("失敗時に Render が呼ばれた")
	}
}

// --- FindAddress ---

func TestFindAddress(t *testing.T) {
	svc, _, _ := newTestService(&mockLocationClient{})
	coord, err := svc.FindAddress(context.Background(), "anywhere")
	if err != nil {
		t.Fatalf("FindAddress() error = %v", err)
	}
	if coord.Latitude != 1 || coord.Longitude != 2 {
		t.Errorf("coord = %+v", coord)
	}
}

// --- Submit ---

func TestSubmit_Success_ReconcilesPendingEntry(t *testing.T) {
	release := make(chan struct{})
	var sent model.NewLocationSubmission
	client := &mockLocationClient{
		getUserFn: func(ctx context.Context) (model.User, error) {
			return model.User{Key: "user-1", FirstName: "Ada", LastName: "Lovelace"}, nil
		},
		postLocationFn: func(ctx context.Context, sub model.NewLocationSubmission) (model.PostedLocation, error) {
			sent = sub
			<-release
			return model.PostedLocation{ObjectID: "obj-9", CreatedAt: "2024-05-01T12:00:01.000Z"}, nil
		},
	}
	svc, st, rec := newTestService(client)

	var result model.Location
	var resultErr error
	task, err := svc.Submit(context.Background(), validDraft(), func(loc model.Location, err error) {
		result, resultErr = loc, err
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// 応答前: 仮の項目が追加されている
	snap := st.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("仮の項目数 = %d, want 1", len(snap))
	}
	if snap[0].ObjectID != "" || snap[0].CreatedAt != "2024-05-01T12:00:00.000+0000" || snap[0].UpdatedAt != snap[0].CreatedAt {
		t.Errorf("仮の項目 = %+v", snap[0])
	}

	close(release)
	task.Wait()

	if resultErr != nil {
		t.Fatalf("completion error = %v", resultErr)
	}
	if sent.UniqueKey != "user-1" || sent.FirstName != "Ada" || sent.LastName != "Lovelace" {
		t.Errorf("送信内容 = %+v", sent)
	}
	if result.ObjectID != "obj-9" || result.UpdatedAt != "2024-05-01T12:00:01.000Z" {
		t.Errorf("確定した位置情報 = %+v", result)
	}

	snap = st.Snapshot()
	if len(snap) != 1 || snap[0] != result {
		t.Errorf("ストア = %+v, want [%+v]", snap, result)
	}
	if len(rec.results) != 1 || rec.results[0] != SubmissionConfirmed {
		t.Errorf("results = %v", rec.results)
	}
}

func TestSubmit_Failure_RollsBackPendingEntry(t *testing.T) {
	client := &mockLocationClient{
		postLocationFn: func(ctx context.Context, sub model.NewLocationSubmission) (model.PostedLocation, error) {
			return model.PostedLocation{}, &transport.APIError{HTTPStatusCode: 400, StatusCode: 400, Message: "bad"}
		},
	}
	svc, st, rec := newTestService(client)
	st.AppendLocal(testLocation("existing", ""))

	var resultErr error
	task, err := svc.Submit(context.Background(), validDraft(), func(_ model.Location, err error) {
		resultErr = err
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	task.Wait()

	var apiErr *transport.APIError
	if !errors.As(resultErr, &apiErr) {
		t.Fatalf("completion error = %v, want *transport.APIError", resultErr)
	}
	snap := st.Snapshot()
	if len(snap) != 1 || snap[0].ObjectID != "existing" {
		t.Errorf("ストア = %+v, want only existing entry", snap)
	}
	if len(rec.results) != 1 || rec.results[0] != SubmissionRolledBack {
		t.Errorf("results = %v", rec.results)
	}
}

func TestSubmit_Cancel_CompletesWithCanceledErrorAndKeepsStore(t *testing.T) {
	client := &mockLocationClient{
		postLocationFn: func(ctx context.Context, sub model.NewLocationSubmission) (model.PostedLocation, error) {
			<-ctx.Done()
			return model.PostedLocation{}, &transport.TransportError{Method: "POST", URL: "x", Err: ctx.Err()}
		},
	}
	svc, st, rec := newTestService(client)

	calls := 0
	var resultErr error
	task, err := svc.Submit(context.Background(), validDraft(), func(_ model.Location, err error) {
		calls++
		resultErr = err
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	task.Cancel()
	task.Wait()

	if calls != 1 {
		t.Errorf("completion 回数 = %d, want 1", calls)
	}
	var te *transport.TransportError
	if !errors.As(resultErr, &te) || !te.Canceled() {
		t.Errorf("completion error = %v, want canceled TransportError", resultErr)
	}
	// 中断してもストアは変更しない
	snap := st.Snapshot()
	if len(snap) != 1 || snap[0].ObjectID != "" || snap[0].MapString != "Mountain View, CA" {
		t.Errorf("ストア = %+v, want pending entry kept", snap)
	}
	if len(rec.results) != 1 || rec.results[0] != SubmissionCanceled {
		t.Errorf("results = %v, want [canceled]", rec.results)
	}
}

// TestSubmit_RefreshDuringPost_KeepsSingleEntry は投稿中に一覧更新でサーバー側の項目が
// 取り込まれても、確定後に自分の位置情報が1件だけになることを検証する。
func TestSubmit_RefreshDuringPost_KeepsSingleEntry(t *testing.T) {
	posted := model.PostedLocation{ObjectID: "obj-9", CreatedAt: "2024-05-01T12:00:01.000Z"}
	accepted := make(chan model.NewLocationSubmission)
	release := make(chan struct{})

	var mu sync.Mutex
	var serverSide []model.Location
	client := &mockLocationClient{
		getLocationsFn: func(ctx context.Context) ([]model.Location, error) {
			mu.Lock()
			defer mu.Unlock()
			return slices.Clone(serverSide), nil
		},
		postLocationFn: func(ctx context.Context, sub model.NewLocationSubmission) (model.PostedLocation, error) {
			// サーバーは受け付け済みだが、応答はまだ返さない
			mu.Lock()
			serverSide = append(serverSide, sub.Confirmed(posted))
			mu.Unlock()
			accepted <- sub
			<-release
			return posted, nil
		},
	}
	svc, st, _ := newTestService(client)

	var result model.Location
	task, err := svc.Submit(context.Background(), validDraft(), func(loc model.Location, err error) {
		if err != nil {
			t.Errorf("completion error = %v", err)
		}
		result = loc
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-accepted

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if st.Len() != 2 {
		t.Fatalf("更新後の件数 = %d, want 2 (pending + server copy)", st.Len())
	}

	close(release)
	task.Wait()

	snap := st.Snapshot()
	if len(snap) != 1 || snap[0] != result {
		t.Errorf("ストア = %+v, want only [%+v]", snap, result)
	}
}

func TestSubmit_FallsBackToDraftNames(t *testing.T) {
	var sent model.NewLocationSubmission
	client := &mockLocationClient{
		postLocationFn: func(ctx context.Context, sub model.NewLocationSubmission) (model.PostedLocation, error) {
			sent = sub
			return model.PostedLocation{ObjectID: "o", CreatedAt: "2024-05-01T12:00:01.000Z"}, nil
		},
	}
	svc, _, _ := newTestService(client)

	task, err := svc.Submit(context.Background(), validDraft(), nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	task.Wait()

	if sent.FirstName != "Draft" || sent.LastName != "Name" {
		t.Errorf("送信された姓名 = %q %q, want Draft Name", sent.FirstName, sent.LastName)
	}
}

func TestSubmit_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Draft)
		wantErr error
	}{
		{"地名が空", func(d *Draft) { d.MapString = "  " }, ErrEmptyMapString},
		{"緯度が範囲外", func(d *Draft) { d.Latitude = 91 }, ErrInvalidCoordinate},
		{"経度が範囲外", func(d *Draft) { d.Longitude = -181 }, ErrInvalidCoordinate},
		{"リンクが空", func(d *Draft) { d.MediaURL = "" }, security.ErrInvalidMediaURL},
		{"リンクのスキームが不正", func(d *Draft) { d.MediaURL = "javascript:alert(1)" }, security.ErrInvalidMediaURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockLocationClient{
				postLocationFn: func(ctx context.Context, sub model.NewLocationSubmission) (model.PostedLocation, error) {
					t.Error("検証エラーなのに投稿された")
					return model.PostedLocation{}, nil
				},
			}
			svc, st, _ := newTestService(client)

			d := validDraft()
			tt.mutate(&d)
			task, err := svc.Submit(context.Background(), d, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Submit() error = %v, want %v", err, tt.wantErr)
			}
			if task != nil {
				t.Error("検証エラー時に Task が返された")
			}
			if st.Len() != 0 {
				t.Errorf("検証エラー時にストアが変更された: %d", st.Len())
			}
		})
	}
}

func TestSubmit_NotLoggedIn(t *testing.T) {
	client := &mockLocationClient{
		sessionFn: func() (model.Session, bool) { return model.Session{}, false },
	}
	svc, st, _ := newTestService(client)

	if _, err := svc.Submit(context.Background(), validDraft(), nil); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("Submit() error = %v, want ErrNotLoggedIn", err)
	}
	if st.Len() != 0 {
		t.Errorf("未ログイン時にストアが変更された: %d", st.Len())
	}
}

// --- TableRenderer ---

func TestTableRenderer_Render(t *testing.T) {
	var buf bytes.Buffer
	r := NewTableRenderer(&buf)

	r.Render([]model.Location{
		{FirstName: "Ada", LastName: "Lovelace", MapString: "London", MediaURL: "https://ada.example", Latitude: 51.5072, Longitude: -0.1276, UpdatedAt: "2020-01-01T00:00:00.000Z"},
		{FirstName: "Alan", LastName: "Turing", MapString: "Manchester", MediaURL: "https://alan.example", Latitude: 53.48, Longitude: -2.24, UpdatedAt: "2021-01-01T00:00:00.000Z"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("行数 = %d, want 3\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "NAME") || !strings.Contains(lines[0], "UPDATED") {
		t.Errorf("ヘッダー = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Ada Lovelace") || !strings.Contains(lines[1], "51.5072") {
		t.Errorf("1行目 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "Alan Turing") || !strings.Contains(lines[2], "-2.2400") {
		t.Errorf("2行目 = %q", lines[2])
	}
	// 列が揃っていること
	if strings.Index(lines[1], "London") != strings.Index(lines[2], "Manchester") {
		t.Errorf("列が揃っていない:\n%s", buf.String())
	}
}

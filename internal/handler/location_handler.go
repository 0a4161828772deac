package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/onthemap/internal/geocode"
	"github.com/hitoshi/onthemap/internal/location"
	"github.com/hitoshi/onthemap/internal/model"
	"github.com/hitoshi/onthemap/internal/security"
	"github.com/hitoshi/onthemap/internal/transport"
)

// LocationServiceInterface は位置情報ハンドラーが必要とするサービスインターフェース。
type LocationServiceInterface interface {
	Locations() []model.Location
	Refresh(ctx context.Context) ([]model.Location, error)
	FindAddress(ctx context.Context, address string) (model.Coordinate, error)
	Submit(ctx context.Context, draft location.Draft, completion func(model.Location, error)) (*transport.Task, error)
}

// LocationHandler は地図・一覧・新規投稿画面に相当するHTTPハンドラー。
type LocationHandler struct {
	service   LocationServiceInterface
	sanitizer security.TextSanitizer
	logger    *slog.Logger
}

// NewLocationHandler はLocationHandlerを生成する。
func NewLocationHandler(service LocationServiceInterface, sanitizer security.TextSanitizer, logger *slog.Logger) *LocationHandler {
	return &LocationHandler{
		service:   service,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// geocodeRequest は住所検索リクエストのボディ。
type geocodeRequest struct {
	Address string `json:"address"`
}

// pinRequest は新規投稿リクエストのボディ。
// 姓名はバックエンドのユーザー情報を取得できなかった場合にのみ使われる。
type pinRequest struct {
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	MapString string  `json:"mapString"`
	MediaURL  string  `json:"mediaURL"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// locationsResponse は位置情報一覧のAPIレスポンス。
type locationsResponse struct {
	Results []model.Location `json:"results"`
}

// ListLocations はストアの位置情報を更新日時の新しい順に返す。
// GET /api/locations
func (h *LocationHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, locationsResponse{Results: h.sanitize(h.service.Locations())})
}

// RefreshLocations はバックエンドから位置情報を再取得し、更新後の一覧を返す。
// POST /api/locations/refresh
func (h *LocationHandler) RefreshLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.service.Refresh(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, locationsResponse{Results: h.sanitize(locations)})
}

// Geocode は住所を座標に変換する。
// POST /api/geocode
func (h *LocationHandler) Geocode(w http.ResponseWriter, r *http.Request) {
	var req geocodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, invalidBodyError())
		return
	}

	coord, err := h.service.FindAddress(r.Context(), req.Address)
	if err != nil {
		if errors.Is(err, geocode.ErrAddressNotFound) {
			writeErrorBody(w, http.StatusUnprocessableEntity, model.NewAddressNotFoundError(req.Address))
			return
		}
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, coord)
}

// SubmitPin は新しい位置情報を投稿し、確定するまで待ってから結果を返す。
// クライアントが切断した場合は投稿を中断する。仮の項目はストアに残る。
// POST /api/pins
func (h *LocationHandler) SubmitPin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, invalidBodyError())
		return
	}

	type result struct {
		loc model.Location
		err error
	}
	done := make(chan result, 1)

	task, err := h.service.Submit(r.Context(), location.Draft{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		MapString: req.MapString,
		MediaURL:  req.MediaURL,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}, func(loc model.Location, err error) {
		done <- result{loc: loc, err: err}
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	select {
	case res := <-done:
		if res.err != nil {
			handleServiceError(w, h.logger, res.err)
			return
		}
		writeJSON(w, http.StatusCreated, h.sanitizer.SanitizeLocation(res.loc))
	case <-r.Context().Done():
		task.Cancel()
		task.Wait()
		h.logger.Info("pin submission canceled by client")
	}
}

// sanitize は他のユーザーが入力した文字列からマークアップを取り除く。
func (h *LocationHandler) sanitize(locations []model.Location) []model.Location {
	out := make([]model.Location, len(locations))
	for i, loc := range locations {
		out[i] = h.sanitizer.SanitizeLocation(loc)
	}
	return out
}

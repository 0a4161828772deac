package model

import "time"

// TimestampLayout はcreatedAt/updatedAtの書式。
// パース時は "+0000" と "Z" の両方を受け付ける。
const TimestampLayout = "2006-01-02T15:04:05.000Z0700"

// timestampFormatLayout は生成時の書式。オフセットは常に "+0000" 形式で出力する。
const timestampFormatLayout = "2006-01-02T15:04:05.000-0700"

// ParseTimestamp はバックエンドのタイムスタンプ文字列をパースする。
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// FormatTimestamp は時刻をバックエンドと同じ書式（UTC）で文字列化する。
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampFormatLayout)
}

// Location はバックエンドに保存された学生の位置情報を表す。
// 全フィールドが一致する場合に同一とみなす（構造的等価）。
type Location struct {
	ObjectID  string  `json:"objectId"`
	UniqueKey string  `json:"uniqueKey"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	MapString string  `json:"mapString"`
	MediaURL  string  `json:"mediaURL"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
}

// FullName は姓名を連結した表示名を返す。
func (l Location) FullName() string {
	return l.FirstName + " " + l.LastName
}

// Coordinate は位置情報の座標を返す。
func (l Location) Coordinate() Coordinate {
	return Coordinate{Latitude: l.Latitude, Longitude: l.Longitude}
}

// NewLocationSubmission は位置情報の新規投稿ペイロード。
// objectId・createdAt・updatedAtはサーバー側で採番されるため含まない。
type NewLocationSubmission struct {
	UniqueKey string  `json:"uniqueKey"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	MapString string  `json:"mapString"`
	MediaURL  string  `json:"mediaURL"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Pending はサーバー応答前にローカルへ追加する仮のLocationを生成する。
// objectIdは空、createdAtとupdatedAtはnowで埋める。
func (s NewLocationSubmission) Pending(now time.Time) Location {
	ts := FormatTimestamp(now)
	return s.withServerFields("", ts, ts)
}

// Confirmed はサーバーが採番したobjectIdとcreatedAtを反映したLocationを生成する。
// 新規作成のためupdatedAtはcreatedAtと同じ値とする。
func (s NewLocationSubmission) Confirmed(posted PostedLocation) Location {
	return s.withServerFields(posted.ObjectID, posted.CreatedAt, posted.CreatedAt)
}

func (s NewLocationSubmission) withServerFields(objectID, createdAt, updatedAt string) Location {
	return Location{
		ObjectID:  objectID,
		UniqueKey: s.UniqueKey,
		FirstName: s.FirstName,
		LastName:  s.LastName,
		MapString: s.MapString,
		MediaURL:  s.MediaURL,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

// PostedLocation は位置情報投稿に対するサーバー応答。
// サーバーが採番した識別子と作成日時のみを含む。
type PostedLocation struct {
	CreatedAt string `json:"createdAt"`
	ObjectID  string `json:"objectId"`
}

// Coordinate は緯度経度の組。
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

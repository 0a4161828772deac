// Package model はドメインモデルを定義する。
package model

// User はOn the Mapバックエンドに登録されたユーザーの公開情報を表す。
// GET users/<id> のレスポンスから生成する。
type User struct {
	Key       string `json:"key"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// FullName は姓名を連結した表示名を返す。
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// Credentials はログイン時に送信する認証情報。
// リクエストペイロードとしてのみ使用し、保持しない。
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session はバックエンドが発行したログインセッションを表す。
// ID・有効期限・ユーザーIDの3項目が揃っている場合のみ有効とみなす。
type Session struct {
	ID         string `json:"id"`
	Expiration string `json:"expiration"`
	UserID     string `json:"user_id"`
}

// Valid は3項目すべてが設定されているかを返す。
func (s Session) Valid() bool {
	return s.ID != "" && s.Expiration != "" && s.UserID != ""
}

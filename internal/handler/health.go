package handler

import "net/http"

// Health はプロセスの生存確認用エンドポイント。
// バックエンドへの疎通は確認しない。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

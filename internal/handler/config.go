package handler

import (
	"net/http"
)

// PushConfig: публичные параметры пушей для фронта.
type PushConfig struct {
	Mode           string
	VAPIDPublicKey string
}

// ConfigHandler отдаёт публичную часть конфигурации (без авторизации).
type ConfigHandler struct {
	push PushConfig
}

func NewConfigHandler(push PushConfig) *ConfigHandler {
	return &ConfigHandler{push: push}
}

// GetPushConfig: подписываться в браузере имеет смысл только в режимах с Web Push.
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.push.VAPIDPublicKey == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "mode": h.push.Mode})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"mode":             h.push.Mode,
		"vapid_public_key": h.push.VAPIDPublicKey,
	})
}

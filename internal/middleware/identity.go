package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmchat/internal/logger"
)

const IdentityHeader = "X-User-Id"

var errUnauthorized = errors.New("unauthorized")

// Identity требует заголовок X-User-Id. Если задан authServiceURL, сессионные
// заголовки проверяются во внешнем сервисе авторизации, и выданный им user_id
// обязан совпасть с заголовком. Без идентичности: 401 JSON, до upgrade и хендлеров.
func Identity(authServiceURL string, client *http.Client) func(http.Handler) http.Handler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	authServiceURL = strings.TrimRight(strings.TrimSpace(authServiceURL), "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(IdentityHeader))
			if userID == "" {
				unauthorized(w)
				return
			}
			if authServiceURL != "" {
				resolved, err := validateSession(client, authServiceURL, r)
				if err != nil {
					logger.Debugf("identity: user=%s: %v", userID, err)
					unauthorized(w)
					return
				}
				if resolved != userID {
					logger.Warnf("identity: header user=%s does not match session user=%s", userID, resolved)
					unauthorized(w)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

// validateSession отправляет X-Session-Id / X-Timestamp / X-Signature в
// authServiceURL/internal/validate и возвращает user_id из ответа.
func validateSession(client *http.Client, authServiceURL string, r *http.Request) (string, error) {
	sessionID := r.Header.Get("X-Session-Id")
	timestamp := r.Header.Get("X-Timestamp")
	signature := r.Header.Get("X-Signature")
	if sessionID == "" || timestamp == "" || signature == "" {
		return "", fmt.Errorf("%w: missing session headers", errUnauthorized)
	}
	var body []byte
	// multipart подписывается с пустым телом; тело не читаем, чтобы не держать файл в памяти дважды.
	if r.Body != nil && !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	payload, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"timestamp":  timestamp,
		"signature":  signature,
		"method":     r.Method,
		"path":       r.URL.Path,
		"body":       string(body),
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, authServiceURL+"/internal/validate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: auth service status %d", errUnauthorized, resp.StatusCode)
	}
	var result struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("auth service decode: %w", err)
	}
	if result.UserID == "" {
		return "", fmt.Errorf("%w: empty user_id", errUnauthorized)
	}
	return result.UserID, nil
}

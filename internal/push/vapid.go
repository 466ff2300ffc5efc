package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dmchat/internal/logger"
)

// VAPIDKeys: пара ключей Web Push в base64url, как их отдаёт webpush-go.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func (k VAPIDKeys) Complete() bool {
	return k.PublicKey != "" && k.PrivateKey != ""
}

func GenerateVAPIDKeys() (VAPIDKeys, error) {
	// webpush-go возвращает сначала приватный ключ.
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("generate vapid keys: %w", err)
	}
	return VAPIDKeys{PublicKey: pub, PrivateKey: priv}, nil
}

// ResolveVAPIDKeys: ключи из конфига, иначе из файла keysFile, иначе новая пара,
// которая сохраняется в keysFile. Неудачная запись файла не ошибка: ключи
// живут до перезапуска, подписки браузеров после него придётся обновить.
func ResolveVAPIDKeys(configured VAPIDKeys, keysFile string) (VAPIDKeys, error) {
	if configured.Complete() {
		return configured, nil
	}
	if keysFile == "" {
		return GenerateVAPIDKeys()
	}
	stored, err := readVAPIDKeys(keysFile)
	switch {
	case err == nil && stored.Complete():
		return stored, nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		logger.Warnf("push: vapid keys file %s: %v, generating new pair", keysFile, err)
	}
	keys, err := GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, err
	}
	if err := writeVAPIDKeys(keysFile, keys); err != nil {
		logger.Errorf("push: не удалось сохранить VAPID-ключи в %s: %v", keysFile, err)
		return keys, nil
	}
	logger.Infof("push: VAPID-ключи сгенерированы и сохранены в %s", keysFile)
	return keys, nil
}

func readVAPIDKeys(path string) (VAPIDKeys, error) {
	var keys VAPIDKeys
	data, err := os.ReadFile(path)
	if err != nil {
		return keys, err
	}
	err = json.Unmarshal(data, &keys)
	return keys, err
}

func writeVAPIDKeys(path string, keys VAPIDKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

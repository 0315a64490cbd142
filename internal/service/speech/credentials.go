package speech

import (
	"errors"
	"strings"

	speechmodel "github.com/zhouzirui/z-interview/backend/internal/model/speech"
)

// resolveCredentials 返回规范化后的 AppID 与 AccessToken
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", errors.New("volcengine speech config is not initialized")
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", errors.New("volcengine speech config needs AppID and AccessToken")
	}
	return appID, token, nil
}

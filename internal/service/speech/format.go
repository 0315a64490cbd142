package speech

import (
	"path/filepath"
	"strings"
)

// AudioExt 从文件名推断音频容器，未知时返回空字符串
func AudioExt(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case "wav", "wave":
		return "wav"
	case "mp3", "mpeg", "mpga":
		return "mp3"
	case "ogg", "oga", "opus":
		return "ogg"
	case "webm", "weba":
		return "webm"
	case "m4a", "mp4":
		return "mp4"
	case "flac":
		return "flac"
	case "pcm", "raw":
		return "pcm"
	default:
		return ""
	}
}

// ExtForContentType 把上传的 MIME 类型映射为扩展名
func ExtForContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	case "audio/webm":
		return "webm"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "mp4"
	case "audio/flac":
		return "flac"
	default:
		return ""
	}
}

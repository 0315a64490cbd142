package speech

import "strings"

// DefaultVoice 客户端未指定音色时使用的别名
const DefaultVoice = "nova"

const (
	defaultVolcengineVoice = "en_female_amy_jupiter_bigtts"
	defaultElevenLabsVoice = "21m00Tcm4TlvDq8ikWAM"
)

// 客户端使用统一的音色别名，各合成服务各自映射为原生音色
var voiceAliases = map[string]struct {
	volcengine string
	elevenlabs string
}{
	"nova":    {"en_female_amy_jupiter_bigtts", "21m00Tcm4TlvDq8ikWAM"},
	"shimmer": {"en_female_skye_emo_v2_mars_bigtts", "EXAVITQu4vr4xnSDxMaL"},
	"alloy":   {"en_female_candice_emo_v2_mars_bigtts", "MF3mGyEYCl7XYWbV9V6O"},
	"echo":    {"en_male_glen_emo_v2_mars_bigtts", "ErXwobaYiN019PkySvjV"},
	"onyx":    {"en_male_sylus_emo_v2_mars_bigtts", "pNInz6obpgDQGcFmaJgB"},
	"fable":   {"en_male_corey_emo_v2_mars_bigtts", "TxGEqnHWrfWFTfGW9XjX"},
}

// IsVoiceAlias 判断是否为已知别名
func IsVoiceAlias(voice string) bool {
	_, ok := voiceAliases[strings.ToLower(strings.TrimSpace(voice))]
	return ok
}

// VolcengineVoice 别名映射为火山引擎音色，非别名原样返回
func VolcengineVoice(voice string) string {
	voice = strings.TrimSpace(voice)
	if v, ok := voiceAliases[strings.ToLower(voice)]; ok {
		return v.volcengine
	}
	return voice
}

// ElevenLabsVoice 别名映射为 ElevenLabs voice id，空值回落到 fallback
func ElevenLabsVoice(voice, fallback string) string {
	voice = strings.TrimSpace(voice)
	if v, ok := voiceAliases[strings.ToLower(voice)]; ok {
		return v.elevenlabs
	}
	if voice != "" {
		return voice
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return fallback
	}
	return defaultElevenLabsVoice
}

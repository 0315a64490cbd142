package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Env       string
	Server    ServerConfig
	AI        AIConfig
	Speech    SpeechConfig
	Interview InterviewConfig
	Storage   StorageConfig
	Client    ClientConfig
}

// Development 表示是否运行在本地开发模式。
func (c *Config) Development() bool {
	return strings.EqualFold(c.Env, "development") || strings.EqualFold(c.Env, "dev")
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	interview, err := loadInterviewConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	client, err := loadClientConfig(interview.GatewayTimeout)
	if err != nil {
		return nil, err
	}

	return &Config{
		Env:       getEnvOrDefault("APP_ENV", "production"),
		Server:    server,
		AI:        ai,
		Speech:    speech,
		Interview: interview,
		Storage:   storage,
		Client:    client,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("SERVER_PORT"))
	if port == "" {
		port = strings.TrimSpace(os.Getenv("PORT"))
	}
	if port == "" {
		port = "8080"
	}

	origins := splitList(getEnvOrDefault("CORS_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, CORSOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid SERVER_PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, CORSOrigins: origins}, nil
}

// Generation providers.
const (
	ProviderArk    = "ark"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string

	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	GeminiAPIKey string
	GeminiModel  string
}

// Enabled 表示是否提供了 Ark 必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// GeminiEnabled 表示是否提供了 Gemini 密钥。
func (c AIConfig) GeminiEnabled() bool {
	return c.GeminiAPIKey != ""
}

// ResolvedProvider 返回最终使用的生成服务；未显式指定时按凭证自动选择。
func (c AIConfig) ResolvedProvider() string {
	if c.Provider != "" {
		return c.Provider
	}
	switch {
	case c.Enabled():
		return ProviderArk
	case c.GeminiEnabled():
		return ProviderGemini
	default:
		return ""
	}
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + ARK_MODEL_ID or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	provider := strings.ToLower(strings.TrimSpace(os.Getenv("GENERATION_PROVIDER")))
	switch provider {
	case "", ProviderArk, ProviderGemini, ProviderMock:
	default:
		return AIConfig{}, fmt.Errorf("invalid GENERATION_PROVIDER value %q", provider)
	}

	modelID := strings.TrimSpace(os.Getenv("ARK_MODEL_ID"))
	if modelID == "" {
		modelID = strings.TrimSpace(os.Getenv("Model"))
	}

	return AIConfig{
		Provider:     provider,
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        modelID,
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		GeminiAPIKey: strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:  getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
	}, nil
}

// Speech providers.
const (
	SpeechVolcengine = "volcengine"
	SpeechGoogle     = "google"
	SpeechElevenLabs = "elevenlabs"
)

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	Transcriber string
	Synthesizer string

	AppID          string
	AccessToken    string
	APIKey         string
	AccessKey      string
	SecretKey      string
	Region         string
	BaseURL        string
	ConcurrentMode bool
	ASRModel       string
	ASRLanguage    string
	TTSVoice       string
	TTSSpeed       float32
	TTSVolume      float32
	TTSLanguage    string
	Timeout        int
	Enabled        bool

	GoogleLanguage string

	ElevenLabsAPIKey  string
	ElevenLabsModelID string
	ElevenLabsVoiceID string
	ElevenLabsBaseURL string
}

// TranscriptionEnabled 表示所选识别服务是否具备凭证。
func (c SpeechConfig) TranscriptionEnabled() bool {
	switch c.Transcriber {
	case SpeechGoogle:
		return true
	default:
		return c.Enabled
	}
}

// SynthesisEnabled 表示所选合成服务是否具备凭证。
func (c SpeechConfig) SynthesisEnabled() bool {
	switch c.Synthesizer {
	case SpeechElevenLabs:
		return c.ElevenLabsAPIKey != ""
	default:
		return c.Enabled
	}
}

func loadSpeechConfig() (SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	concurrent, err := parseBoolEnv("SPEECH_ASR_CONCURRENT", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	transcriber := strings.ToLower(getEnvOrDefault("SPEECH_TRANSCRIBER", SpeechVolcengine))
	if transcriber != SpeechVolcengine && transcriber != SpeechGoogle {
		return SpeechConfig{}, fmt.Errorf("invalid SPEECH_TRANSCRIBER value %q", transcriber)
	}
	synthesizer := strings.ToLower(getEnvOrDefault("SPEECH_SYNTHESIZER", SpeechVolcengine))
	if synthesizer != SpeechVolcengine && synthesizer != SpeechElevenLabs {
		return SpeechConfig{}, fmt.Errorf("invalid SPEECH_SYNTHESIZER value %q", synthesizer)
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	accessKey := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("SPEECH_SECRET_KEY"))

	// 如果没有专门的语音配置，尝试使用AI配置
	if accessToken == "" && accessKey == "" {
		accessToken = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		apiKey = accessToken
		accessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		secretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
	}

	return SpeechConfig{
		Transcriber:       transcriber,
		Synthesizer:       synthesizer,
		AppID:             appID,
		AccessToken:       accessToken,
		APIKey:            apiKey,
		AccessKey:         accessKey,
		SecretKey:         secretKey,
		Region:            getEnvOrDefault("SPEECH_REGION", "cn-beijing"),
		BaseURL:           getEnvOrDefault("SPEECH_BASE_URL", ""),
		ConcurrentMode:    concurrent,
		ASRModel:          getEnvOrDefault("SPEECH_ASR_MODEL", "bigmodel"),
		ASRLanguage:       getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		TTSVoice:          getEnvOrDefault("SPEECH_TTS_VOICE", "en_female_amy_jupiter_bigtts"),
		TTSSpeed:          ttsSpeed,
		TTSVolume:         ttsVolume,
		TTSLanguage:       getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		Timeout:           timeoutSeconds,
		Enabled:           appID != "" && accessToken != "",
		GoogleLanguage:    getEnvOrDefault("GOOGLE_SPEECH_LANGUAGE", "en-US"),
		ElevenLabsAPIKey:  strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		ElevenLabsModelID: getEnvOrDefault("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsVoiceID: getEnvOrDefault("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		ElevenLabsBaseURL: getEnvOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
	}, nil
}

// InterviewConfig 描述面试会话引擎的参数。
type InterviewConfig struct {
	GatewayTimeout  time.Duration
	SessionTTL      time.Duration
	JanitorInterval time.Duration
	MaxResumeChars  int
	DefaultVoice    string
	MaxUploadBytes  int64
}

func loadInterviewConfig() (InterviewConfig, error) {
	gatewayTimeout, err := parseDurationEnv("INTERVIEW_GATEWAY_TIMEOUT", 60*time.Second)
	if err != nil {
		return InterviewConfig{}, err
	}
	ttl, err := parseDurationEnv("INTERVIEW_SESSION_TTL", 2*time.Hour)
	if err != nil {
		return InterviewConfig{}, err
	}
	janitor, err := parseDurationEnv("INTERVIEW_JANITOR_INTERVAL", 5*time.Minute)
	if err != nil {
		return InterviewConfig{}, err
	}

	maxChars := 12000
	if override, err := parseOptionalIntEnv("INTERVIEW_MAX_RESUME_CHARS"); err != nil {
		return InterviewConfig{}, err
	} else if override != nil && *override > 0 {
		maxChars = *override
	}

	maxUploadMB := 25
	if override, err := parseOptionalIntEnv("INTERVIEW_MAX_UPLOAD_MB"); err != nil {
		return InterviewConfig{}, err
	} else if override != nil && *override > 0 {
		maxUploadMB = *override
	}

	return InterviewConfig{
		GatewayTimeout:  gatewayTimeout,
		SessionTTL:      ttl,
		JanitorInterval: janitor,
		MaxResumeChars:  maxChars,
		DefaultVoice:    getEnvOrDefault("INTERVIEW_DEFAULT_VOICE", "nova"),
		MaxUploadBytes:  int64(maxUploadMB) << 20,
	}, nil
}

// Video store backends.
const (
	StoreLocal = "local"
	StoreS3    = "s3"
)

// StorageConfig 描述面试录像的存储位置。
type StorageConfig struct {
	Backend        string
	Dir            string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Prefix       string
	S3PathStyle    bool
	MaxUploadBytes int64
}

func loadStorageConfig() (StorageConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("VIDEO_STORE", StoreLocal))
	if backend != StoreLocal && backend != StoreS3 {
		return StorageConfig{}, fmt.Errorf("invalid VIDEO_STORE value %q", backend)
	}

	pathStyle, err := parseBoolEnv("S3_PATH_STYLE", false)
	if err != nil {
		return StorageConfig{}, err
	}

	maxMB := 100
	if override, err := parseOptionalIntEnv("VIDEO_MAX_UPLOAD_MB"); err != nil {
		return StorageConfig{}, err
	} else if override != nil && *override > 0 {
		maxMB = *override
	}

	cfg := StorageConfig{
		Backend:        backend,
		Dir:            getEnvOrDefault("VIDEO_DIR", "uploads/videos"),
		S3Bucket:       strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3Region:       getEnvOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:     strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		S3AccessKey:    strings.TrimSpace(os.Getenv("S3_ACCESS_KEY_ID")),
		S3SecretKey:    strings.TrimSpace(os.Getenv("S3_SECRET_ACCESS_KEY")),
		S3Prefix:       strings.Trim(strings.TrimSpace(os.Getenv("S3_PREFIX")), "/"),
		S3PathStyle:    pathStyle,
		MaxUploadBytes: int64(maxMB) << 20,
	}

	if backend == StoreS3 && cfg.S3Bucket == "" {
		return StorageConfig{}, fmt.Errorf("VIDEO_STORE=s3 requires S3_BUCKET")
	}
	return cfg, nil
}

// ClientConfig 描述终端面试客户端的参数。VideoAudioSource 为空时会话视频
// 不录声音，回答麦克风只用于答题。
type ClientConfig struct {
	ServerURL        string
	SilenceTimeout   time.Duration
	VolumeThreshold  float64
	PollInterval     time.Duration
	PlaybackDelay    time.Duration
	RequestTimeout   time.Duration
	VideoDevice      string
	VideoFormat      string
	AudioSource      string
	VideoAudioSource string
	OutputDir        string
	UploadVideo      bool
	Voice            string
}

// requestMargin 是客户端超时在两次服务端网关调用之外预留的余量。
const requestMargin = 30 * time.Second

// loadClientConfig 解析客户端参数。请求超时默认覆盖一次语音回答里的
// 转写与生成两次网关调用，再加上传输余量。
func loadClientConfig(gatewayTimeout time.Duration) (ClientConfig, error) {
	silence, err := parseDurationEnv("INTERVIEWER_SILENCE_TIMEOUT", 10*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}
	poll, err := parseDurationEnv("INTERVIEWER_POLL_INTERVAL", 16*time.Millisecond)
	if err != nil {
		return ClientConfig{}, err
	}
	delay, err := parseDurationEnv("INTERVIEWER_PLAYBACK_DELAY", 500*time.Millisecond)
	if err != nil {
		return ClientConfig{}, err
	}
	requestTimeout, err := parseDurationEnv("INTERVIEWER_REQUEST_TIMEOUT", 2*gatewayTimeout+requestMargin)
	if err != nil {
		return ClientConfig{}, err
	}

	threshold := 10.0
	if override, err := parseOptionalFloatEnv("INTERVIEWER_VOLUME_THRESHOLD"); err != nil {
		return ClientConfig{}, err
	} else if override != nil && *override > 0 {
		threshold = *override
	}

	upload, err := parseBoolEnv("INTERVIEWER_UPLOAD_VIDEO", true)
	if err != nil {
		return ClientConfig{}, err
	}

	return ClientConfig{
		ServerURL:        strings.TrimRight(getEnvOrDefault("INTERVIEWER_SERVER_URL", "http://localhost:8080"), "/"),
		SilenceTimeout:   silence,
		VolumeThreshold:  threshold,
		PollInterval:     poll,
		PlaybackDelay:    delay,
		RequestTimeout:   requestTimeout,
		VideoDevice:      getEnvOrDefault("INTERVIEWER_VIDEO_DEVICE", "/dev/video0"),
		VideoFormat:      getEnvOrDefault("INTERVIEWER_VIDEO_FORMAT", "v4l2"),
		AudioSource:      strings.TrimSpace(os.Getenv("INTERVIEWER_AUDIO_SOURCE")),
		VideoAudioSource: strings.TrimSpace(os.Getenv("INTERVIEWER_VIDEO_AUDIO_SOURCE")),
		OutputDir:        getEnvOrDefault("INTERVIEWER_OUTPUT_DIR", "interviews"),
		UploadVideo:      upload,
		Voice:            getEnvOrDefault("INTERVIEWER_VOICE", "nova"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 接受 Go 时长格式（"90s"）或纯数字毫秒。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}

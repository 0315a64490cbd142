package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/config"
	"github.com/zhouzirui/z-interview/backend/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: asr 或 tts")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认根据格式自动生成)")
	voice := flag.String("voice", "", "TTS 声音，可以是别名 (nova) 或服务商音色 ID")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")
	verbose := flag.Bool("v", false, "输出调试日志")

	flag.Parse()

	if *mode != "asr" && *mode != "tts" {
		flag.Usage()
		log.Fatal("请通过 -mode=asr 或 -mode=tts 指定测试模式")
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			log.Fatalf("日志初始化失败: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc, err := speech.NewService(ctx, cfg.Speech, logger)
	if err != nil {
		log.Fatalf("语音服务初始化失败: %v", err)
	}
	defer svc.Close()

	switch *mode {
	case "asr":
		if !svc.CanTranscribe() {
			log.Fatalf("识别服务 %s 未配置凭证", cfg.Speech.Transcriber)
		}
		runASR(ctx, svc, *audioPath)
	case "tts":
		if !svc.CanSynthesize() {
			log.Fatalf("合成服务 %s 未配置凭证", cfg.Speech.Synthesizer)
		}
		v := *voice
		if v == "" {
			v = cfg.Interview.DefaultVoice
		}
		runTTS(ctx, svc, *text, v, *outputPath)
	}
}

func runASR(ctx context.Context, svc *speech.Service, audioPath string) {
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		log.Fatalf("读取音频文件失败: %v", err)
	}

	filename := filepath.Base(audioPath)
	log.Printf("开始进行 ASR 测试: file=%s bytes=%d", filename, len(audio))

	start := time.Now()
	text, err := svc.Transcribe(ctx, audio, filename)
	if err != nil {
		log.Fatalf("ASR 调用失败: %v", err)
	}

	log.Printf("ASR 识别成功: text=%q elapsed=%s", text, time.Since(start).Round(time.Millisecond))
}

func runTTS(ctx context.Context, svc *speech.Service, text, voice, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}

	log.Printf("开始进行 TTS 测试: voice=%s", voice)

	start := time.Now()
	audio, err := svc.Synthesize(ctx, text, voice)
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}

	if outputPath == "" {
		format := audio.Format
		if format == "" {
			format = "mp3"
		}
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), format)
	}

	if err := os.WriteFile(outputPath, audio.Data, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}

	log.Printf("TTS 合成成功: bytes=%d content-type=%s elapsed=%s out=%s",
		len(audio.Data), audio.ContentType(), time.Since(start).Round(time.Millisecond), outputPath)
}

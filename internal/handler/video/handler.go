package video

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	store "github.com/zhouzirui/z-interview/backend/internal/storage/video"
	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

// DefaultMaxUploadBytes 单个录像的上传上限
const DefaultMaxUploadBytes int64 = 100 << 20

// Handler 面试录像的上传、播放与删除
type Handler struct {
	store    store.Store
	maxBytes int64
	logger   *zap.Logger
}

// New 创建录像处理器
func New(s store.Store, maxBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Handler{store: s, maxBytes: maxBytes, logger: logger}
}

// RegisterRoutes 注册录像路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/videos", func(vr chi.Router) {
		vr.Post("/upload", h.handleUpload)
		vr.Get("/{id}", h.handleStream)
		vr.Get("/{id}/download", h.handleDownload)
		vr.Get("/{id}/exists", h.handleExists)
		vr.Delete("/{id}", h.handleDelete)
	})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	// 多留一点空间给表单字段
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "video exceeds upload limit")
			return
		}
		utils.RespondAppError(w, apperr.InvalidInput("video.upload", "failed to parse multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		utils.RespondAppError(w, apperr.InvalidInput("video.upload", "No video file provided"))
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "video/") {
		utils.RespondAppError(w, apperr.InvalidInput("video.upload", "Only video files are allowed"))
		return
	}
	if header.Size > h.maxBytes {
		utils.RespondError(w, http.StatusRequestEntityTooLarge, "video exceeds upload limit")
		return
	}

	id := strings.TrimSpace(r.FormValue("id"))
	if id == "" {
		id = strings.TrimSpace(r.FormValue("sessionId"))
	}
	if id == "" {
		id = uuid.NewString()
	}
	key, err := store.KeyFor(id)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	obj, err := h.store.Put(r.Context(), key, file, header.Size, store.ContentType)
	if err != nil {
		h.logger.Error("video upload failed", zap.String("id", id), zap.Error(err))
		utils.RespondAppError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, model.VideoInfo{
		ID:      id,
		Exists:  true,
		Size:    obj.Size,
		URL:     videoURL(id),
		Message: "Video uploaded successfully",
	})
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, false)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, true)
}

// serve 本地文件走 ServeContent 以支持 Range；对象存储直接转发
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, attachment bool) {
	id := chi.URLParam(r, "id")
	key, err := store.KeyFor(id)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	body, obj, err := h.store.Open(r.Context(), key)
	if err != nil {
		h.respondStoreError(w, id, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	if attachment {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", key))
	}

	if rs, ok := body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, key, obj.ModTime, rs)
		return
	}

	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	if !obj.ModTime.IsZero() {
		w.Header().Set("Last-Modified", obj.ModTime.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Debug("video stream interrupted", zap.String("id", id), zap.Error(err))
	}
}

func (h *Handler) handleExists(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key, err := store.KeyFor(id)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	obj, err := h.store.Stat(r.Context(), key)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, model.VideoInfo{ID: id, Exists: true, Size: obj.Size, URL: videoURL(id)})
	case apperr.KindOf(err) == apperr.KindNotFound:
		utils.RespondJSON(w, http.StatusOK, model.VideoInfo{ID: id, Exists: false})
	default:
		h.respondStoreError(w, id, err)
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key, err := store.KeyFor(id)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	if err := h.store.Delete(r.Context(), key); err != nil {
		h.respondStoreError(w, id, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, model.VideoInfo{ID: id, Message: "Video deleted successfully"})
}

func (h *Handler) respondStoreError(w http.ResponseWriter, id string, err error) {
	if apperr.KindOf(err) == apperr.KindNotFound {
		utils.RespondAppError(w, apperr.NotFound("video", "Video not found"))
		return
	}
	h.logger.Error("video store failed", zap.String("id", id), zap.String("backend", h.store.Name()), zap.Error(err))
	utils.RespondAppError(w, err)
}

func videoURL(id string) string {
	return "/api/videos/" + id
}

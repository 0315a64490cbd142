// Package client talks to the interview server on behalf of the terminal
// interviewer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
	"github.com/zhouzirui/z-interview/backend/internal/capture"
	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

const defaultTimeout = 90 * time.Second

// Client is a thin JSON/multipart client for the /api surface. Uploads of
// the session video use a client without a fixed timeout and rely on the
// caller's context instead.
type Client struct {
	baseURL string
	voice   string
	http    *http.Client
	upload  *http.Client
	logger  *zap.Logger
}

// Options tune a Client. Zero values fall back to defaults.
type Options struct {
	Timeout    time.Duration
	Voice      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	upload := &http.Client{Transport: httpClient.Transport}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		voice:   opts.Voice,
		http:    httpClient,
		upload:  upload,
		logger:  opts.Logger,
	}
}

// CreateSession uploads a PDF resume and returns the new session with its
// first question.
func (c *Client) CreateSession(ctx context.Context, filename string, resume io.Reader, applicationID string) (model.CreateSessionResponse, error) {
	var out model.CreateSessionResponse
	fields := map[string]string{}
	if applicationID != "" {
		fields["applicationId"] = applicationID
	}
	body, contentType, err := multipartBody(fields, "resume", filename, "application/pdf", resume)
	if err != nil {
		return out, err
	}
	err = c.do(ctx, c.http, "client.CreateSession", http.MethodPost, "/api/interview/resume", contentType, body, &out)
	return out, err
}

// SubmitTextAnswer sends a typed answer, including the silence skip text.
func (c *Client) SubmitTextAnswer(ctx context.Context, sessionID, answer string) (model.AnswerResponse, error) {
	var out model.AnswerResponse
	payload, err := json.Marshal(model.AnswerRequest{SessionID: sessionID, Answer: answer})
	if err != nil {
		return out, fmt.Errorf("marshal answer: %w", err)
	}
	err = c.do(ctx, c.http, "client.SubmitTextAnswer", http.MethodPost, "/api/interview/answer", "application/json", bytes.NewReader(payload), &out)
	return out, err
}

// SubmitAudioAnswer uploads a recorded answer for transcription.
func (c *Client) SubmitAudioAnswer(ctx context.Context, sessionID string, clip capture.Clip) (model.AudioAnswerResponse, error) {
	var out model.AudioAnswerResponse
	rc, _, err := clip.Open()
	if err != nil {
		return out, fmt.Errorf("open answer clip: %w", err)
	}
	defer rc.Close()

	body, contentType, err := multipartBody(map[string]string{"sessionId": sessionID}, "audio", clip.Filename, clip.ContentType, rc)
	if err != nil {
		return out, err
	}
	err = c.do(ctx, c.http, "client.SubmitAudioAnswer", http.MethodPost, "/api/interview/answer-audio", contentType, body, &out)
	return out, err
}

// RepeatLast returns the question currently waiting for an answer.
func (c *Client) RepeatLast(ctx context.Context, sessionID string) (string, error) {
	var out model.RepeatResponse
	err := c.do(ctx, c.http, "client.RepeatLast", http.MethodGet, "/api/interview/repeat/"+url.PathEscape(sessionID), "", nil, &out)
	return out.Question, err
}

// Speech synthesizes text on the server and returns the audio bytes with
// their content type.
func (c *Client) Speech(ctx context.Context, text string) ([]byte, string, error) {
	payload, err := json.Marshal(model.SpeechRequest{Text: text, Voice: c.voice})
	if err != nil {
		return nil, "", fmt.Errorf("marshal speech request: %w", err)
	}
	resp, err := c.send(ctx, c.http, "client.Speech", http.MethodPost, "/api/interview/tts", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", apperr.Upstream("client.Speech", err)
	}
	if len(data) == 0 {
		return nil, "", apperr.Upstream("client.Speech", fmt.Errorf("empty audio response"))
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// UploadVideo streams the finalized session recording to the server.
func (c *Client) UploadVideo(ctx context.Context, sessionID string, clip capture.Clip) (model.VideoInfo, error) {
	var out model.VideoInfo
	rc, _, err := clip.Open()
	if err != nil {
		return out, fmt.Errorf("open session video: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer rc.Close()
		err := writeMultipart(mw, map[string]string{"sessionId": sessionID}, "video", clip.Filename, clip.ContentType, rc)
		pw.CloseWithError(err)
	}()

	err = c.do(ctx, c.upload, "client.UploadVideo", http.MethodPost, "/api/videos/upload", mw.FormDataContentType(), pr, &out)
	// unblocks the writer goroutine if the request failed before draining the pipe
	pr.Close()
	return out, err
}

func (c *Client) do(ctx context.Context, hc *http.Client, op, method, path, contentType string, body io.Reader, out any) error {
	resp, err := c.send(ctx, hc, op, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Upstream(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) send(ctx context.Context, hc *http.Client, op, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Upstream(op, err)
	}
	c.logger.Debug("server call finished",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

// decodeError turns an error response back into a typed error so callers
// can branch on its kind.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body utils.ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	return apperr.FromStatus(resp.StatusCode, body.Code, body.Error)
}

func multipartBody(fields map[string]string, field, filename, contentType string, r io.Reader) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := writeMultipart(mw, fields, field, filename, contentType, r); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func writeMultipart(mw *multipart.Writer, fields map[string]string, field, filename, contentType string, r io.Reader) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write form field %s: %w", k, err)
		}
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("copy %s: %w", field, err)
	}
	return mw.Close()
}

// VideoUploader is the ArtifactSink that sends the session video to the
// server's video store.
type VideoUploader struct {
	Client *Client
}

// Save uploads clip and returns the server URL for it.
func (u VideoUploader) Save(ctx context.Context, sessionID string, clip capture.Clip) (string, error) {
	info, err := u.Client.UploadVideo(ctx, sessionID, clip)
	if err != nil {
		return "", err
	}
	if info.URL != "" {
		return u.Client.baseURL + info.URL, nil
	}
	return info.ID, nil
}

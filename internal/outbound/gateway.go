package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matheus3301/wppinbox/internal/event"
	"go.uber.org/zap"
)

// File is an attachment to upload.
type File struct {
	Name string
	Mime string
	Data []byte
}

// ReadFile loads path as an attachment, guessing its MIME type from the
// extension.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read attachment: %w", err)
	}
	name := filepath.Base(path)
	return File{Name: name, Mime: mime.TypeByExtension(filepath.Ext(name)), Data: data}, nil
}

// defaultMime is used when neither the file nor its extension names a type.
var defaultMime = map[event.MediaKind]string{
	event.MediaImage:    "image/jpeg",
	event.MediaVideo:    "video/mp4",
	event.MediaAudio:    "audio/ogg; codecs=opus",
	event.MediaDocument: "application/octet-stream",
}

// mimeFor returns the MIME type to declare for f.
func mimeFor(kind event.MediaKind, f File) string {
	if f.Mime != "" {
		return f.Mime
	}
	if t := mime.TypeByExtension(filepath.Ext(f.Name)); t != "" {
		return t
	}
	if t, ok := defaultMime[kind]; ok {
		return t
	}
	return "application/octet-stream"
}

// Response is what the gateway answered. Only the status is kept; the body
// is never interpreted.
type Response struct {
	StatusCode int
}

// OK reports a 2xx answer.
func (r Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Gateway issues the REST send calls.
type Gateway struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewGateway creates a client for baseURL. A zero timeout means none.
func NewGateway(baseURL string, timeout time.Duration, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// SendText posts {to, text} to /messages/text.
func (g *Gateway) SendText(ctx context.Context, to, text string) (Response, error) {
	body, err := json.Marshal(map[string]string{"to": to, "text": text})
	if err != nil {
		return Response{}, fmt.Errorf("marshal text request: %w", err)
	}
	return g.post(ctx, "/messages/text", "application/json", bytes.NewReader(body))
}

// SendMedia uploads f as a multipart form with fields "to" and "file" to
// /messages/{kind}.
func (g *Gateway) SendMedia(ctx context.Context, kind event.MediaKind, to string, f File) (Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("to", to); err != nil {
		return Response{}, fmt.Errorf("write form field: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(f.Name)))
	h.Set("Content-Type", mimeFor(kind, f))
	part, err := w.CreatePart(h)
	if err != nil {
		return Response{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return Response{}, fmt.Errorf("write file data: %w", err)
	}
	if err := w.Close(); err != nil {
		return Response{}, fmt.Errorf("close form: %w", err)
	}
	return g.post(ctx, "/messages/"+string(kind), w.FormDataContentType(), &buf)
}

func (g *Gateway) post(ctx context.Context, path, contentType string, body io.Reader) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, body)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := g.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	g.logger.Debug("gateway request", zap.String("path", path), zap.Int("status", resp.StatusCode))
	return Response{StatusCode: resp.StatusCode}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

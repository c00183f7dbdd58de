// Package sender turns campaign messages into WhatsApp messages.
package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"broadcaster/internal/model"
)

var (
	ErrInvalidNumber = errors.New("invalid phone number")
	ErrOffline       = errors.New("whatsapp client is not connected")
)

// Client is the part of *whatsmeow.Client the sender uses.
type Client interface {
	IsConnected() bool
	IsLoggedIn() bool
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
}

// Readiness reports when the session can send.
type Readiness interface {
	Ready(ctx context.Context) error
}

// Sender implements the campaign transport on top of a WhatsApp client.
type Sender struct {
	client Client
	ready  Readiness
	http   *http.Client
	log    zerolog.Logger
	// MediaDir resolves relative media paths.
	MediaDir string
	// MaxMediaBytes caps attachments read from disk or fetched.
	MaxMediaBytes int64
}

func New(client Client, ready Readiness, log zerolog.Logger) *Sender {
	return &Sender{
		client: client,
		ready:  ready,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
		log:           log.With().Str("component", "sender").Logger(),
		MaxMediaBytes: 64 << 20,
	}
}

// Ready blocks until the session is online.
func (s *Sender) Ready(ctx context.Context) error {
	if s.ready == nil {
		if s.client.IsConnected() && s.client.IsLoggedIn() {
			return nil
		}
		return ErrOffline
	}
	return s.ready.Ready(ctx)
}

// Send delivers message to target, with media attached when set. For audio
// the text goes out as a second message because voice notes carry no caption.
func (s *Sender) Send(ctx context.Context, target, message string, media *model.Media) error {
	jid, err := ToJID(target)
	if err != nil {
		return err
	}
	if !s.client.IsConnected() {
		return ErrOffline
	}
	if media == nil {
		if err := s.sendText(ctx, jid, message); err != nil {
			return err
		}
		s.log.Debug().Str("to", jid.User).Msg("text sent")
		return nil
	}

	data, mimeType, err := s.loadMedia(ctx, media.Path)
	if err != nil {
		return fmt.Errorf("load media: %w", err)
	}
	msg, err := s.buildMedia(ctx, media, data, mimeType, message)
	if err != nil {
		return err
	}
	if _, err := s.client.SendMessage(ctx, jid, msg); err != nil {
		return err
	}
	s.log.Debug().Str("to", jid.User).Str("kind", media.Kind).Int("bytes", len(data)).Msg("media sent")
	if media.Kind == model.KindAudio && strings.TrimSpace(message) != "" {
		return s.sendText(ctx, jid, message)
	}
	return nil
}

// ToJID normalizes a phone number to a user JID. Everything but digits is
// dropped.
func ToJID(target string) (types.JID, error) {
	if strings.Contains(target, "@") {
		jid, err := types.ParseJID(target)
		if err != nil {
			return types.JID{}, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
		}
		return jid, nil
	}
	var b strings.Builder
	for _, r := range target {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 7 || len(digits) > 15 {
		return types.JID{}, fmt.Errorf("%w: %q", ErrInvalidNumber, target)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

func (s *Sender) sendText(ctx context.Context, jid types.JID, text string) error {
	msg := &waE2E.Message{Conversation: proto.String(text)}
	_, err := s.client.SendMessage(ctx, jid, msg)
	return err
}

func mediaType(kind string) whatsmeow.MediaType {
	switch kind {
	case model.KindImage:
		return whatsmeow.MediaImage
	case model.KindVideo:
		return whatsmeow.MediaVideo
	case model.KindAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func (s *Sender) buildMedia(ctx context.Context, media *model.Media, data []byte, mimeType, caption string) (*waE2E.Message, error) {
	up, err := s.client.Upload(ctx, data, mediaType(media.Kind))
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", media.Kind, err)
	}
	length := uint64(len(data))
	switch media.Kind {
	case model.KindImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       optstr(caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &length,
		}}, nil
	case model.KindVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       optstr(caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &length,
		}}, nil
	case model.KindAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &length,
		}}, nil
	default:
		name := filepath.Base(media.Path)
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       optstr(caption),
			Title:         proto.String(name),
			FileName:      proto.String(name),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &length,
		}}, nil
	}
}

func isURL(p string) bool {
	l := strings.ToLower(p)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func (s *Sender) loadMedia(ctx context.Context, path string) ([]byte, string, error) {
	if isURL(path) {
		return s.fetch(ctx, path)
	}
	if !filepath.IsAbs(path) && s.MediaDir != "" {
		path = filepath.Join(s.MediaDir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.MaxMediaBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > s.MaxMediaBytes {
		return nil, "", fmt.Errorf("%s exceeds %d bytes", filepath.Base(path), s.MaxMediaBytes)
	}
	return data, detectMime(path, data), nil
}

type httpStatusError struct {
	code int
	url  string
}

func (e *httpStatusError) Error() string { return fmt.Sprintf("fetch %s: status %d", e.url, e.code) }

func (s *Sender) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	res, err := s.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, "", &httpStatusError{code: res.StatusCode, url: url}
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, s.MaxMediaBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(body)) > s.MaxMediaBytes {
		return nil, "", fmt.Errorf("fetch %s: body exceeds %d bytes", url, s.MaxMediaBytes)
	}
	ct := res.Header.Get("Content-Type")
	if ct == "" {
		ct = detectMime(url, body)
	}
	return body, ct, nil
}

func detectMime(name string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

func optstr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

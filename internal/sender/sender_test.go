package sender

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"broadcaster/internal/model"
)

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	sent      []sentMessage
	uploads   []whatsmeow.MediaType
	sendErr   error
}

type sentMessage struct {
	to  types.JID
	msg *waE2E.Message
}

func (f *fakeClient) IsConnected() bool { return f.connected }
func (f *fakeClient) IsLoggedIn() bool { return f.connected }

func (f *fakeClient) SendMessage(_ context.Context, to types.JID, message *waE2E.Message, _ ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return whatsmeow.SendResponse{}, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{to: to, msg: message})
	return whatsmeow.SendResponse{}, nil
}

func (f *fakeClient) Upload(_ context.Context, data []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, appInfo)
	return whatsmeow.UploadResponse{URL: "https://mmg.example/x", DirectPath: "/x", FileLength: uint64(len(data))}, nil
}

func newTestSender(c *fakeClient) *Sender {
	return New(c, nil, zerolog.Nop())
}

func TestToJID(t *testing.T) {
	jid, err := ToJID("+502 5555-1234")
	require.NoError(t, err)
	assert.Equal(t, "50255551234", jid.User)
	assert.Equal(t, types.DefaultUserServer, jid.Server)

	jid, err = ToJID("50255551234@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "50255551234", jid.User)

	_, err = ToJID("12345")
	assert.ErrorIs(t, err, ErrInvalidNumber)
}

func TestSendText(t *testing.T) {
	c := &fakeClient{connected: true}
	s := newTestSender(c)

	require.NoError(t, s.Send(context.Background(), "50255551234", "Hola Ana", nil))
	require.Len(t, c.sent, 1)
	assert.Equal(t, "Hola Ana", c.sent[0].msg.GetConversation())
	assert.Empty(t, c.uploads)
}

func TestSendOffline(t *testing.T) {
	s := newTestSender(&fakeClient{})
	err := s.Send(context.Background(), "50255551234", "x", nil)
	assert.ErrorIs(t, err, ErrOffline)
	assert.ErrorIs(t, s.Ready(context.Background()), ErrOffline)
}

func TestSendPropagatesClientError(t *testing.T) {
	boom := errors.New("boom")
	s := newTestSender(&fakeClient{connected: true, sendErr: boom})
	assert.ErrorIs(t, s.Send(context.Background(), "50255551234", "x", nil), boom)
}

func TestSendLocalMedia(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flyer.png"), []byte("\x89PNG\r\n\x1a\nrest"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "terms.pdf"), []byte("%PDF-1.4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.ogg"), []byte("OggS"), 0o644))

	c := &fakeClient{connected: true}
	s := newTestSender(c)
	s.MediaDir = dir
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, "50255551234", "Promo", &model.Media{Path: "flyer.png", Kind: model.KindImage}))
	require.NoError(t, s.Send(ctx, "50255551234", "Terms", &model.Media{Path: "terms.pdf", Kind: model.KindDocument}))
	require.NoError(t, s.Send(ctx, "50255551234", "Listen", &model.Media{Path: "note.ogg", Kind: model.KindAudio}))

	require.Len(t, c.sent, 4)
	img := c.sent[0].msg.GetImageMessage()
	require.NotNil(t, img)
	assert.Equal(t, "Promo", img.GetCaption())
	assert.Equal(t, "image/png", img.GetMimetype())

	doc := c.sent[1].msg.GetDocumentMessage()
	require.NotNil(t, doc)
	assert.Equal(t, "terms.pdf", doc.GetFileName())
	assert.Equal(t, "Terms", doc.GetCaption())

	assert.NotNil(t, c.sent[2].msg.GetAudioMessage())
	assert.Equal(t, "Listen", c.sent[3].msg.GetConversation())
	assert.Equal(t, []whatsmeow.MediaType{whatsmeow.MediaImage, whatsmeow.MediaDocument, whatsmeow.MediaAudio}, c.uploads)
}

func TestSendMediaFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("....ftypmp42"))
	}))
	defer srv.Close()

	c := &fakeClient{connected: true}
	s := newTestSender(c)

	require.NoError(t, s.Send(context.Background(), "50255551234", "Mira", &model.Media{Path: srv.URL + "/clip.mp4", Kind: model.KindVideo}))
	require.Len(t, c.sent, 1)
	vid := c.sent[0].msg.GetVideoMessage()
	require.NotNil(t, vid)
	assert.Equal(t, "video/mp4", vid.GetMimetype())
	assert.Equal(t, uint64(12), vid.GetFileLength())

	err := s.Send(context.Background(), "50255551234", "Mira", &model.Media{Path: srv.URL + "/missing.mp4", Kind: model.KindVideo})
	var hse *httpStatusError
	require.ErrorAs(t, err, &hse)
	assert.Equal(t, http.StatusNotFound, hse.code)
}

func TestSendRejectsOversizedMedia(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), make([]byte, 32), 0o644))
	c := &fakeClient{connected: true}
	s := newTestSender(c)
	s.MediaDir = dir
	s.MaxMediaBytes = 16

	err := s.Send(context.Background(), "50255551234", "x", &model.Media{Path: "big.bin", Kind: model.KindDocument})
	assert.Error(t, err)
	assert.Empty(t, c.sent)
}

package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiedye/internal/claim"
	"tiedye/internal/logging"
	"tiedye/internal/models"
	"tiedye/internal/queue"
	"tiedye/internal/storage"
	"tiedye/internal/testutil"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake image data")

type recordingDispatcher struct {
	mu    sync.Mutex
	names []string
}

func (d *recordingDispatcher) Dispatch(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names = append(d.names, name)
	return true
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.names...)
}

type failingClaimer struct{ err error }

func (c failingClaimer) Resolve(context.Context, string) (int64, error) { return 0, c.err }

type harness struct {
	store      *storage.Storage
	runner     *storage.Runner
	fs         afero.Fs
	dir        *queue.Dir
	dispatcher *recordingDispatcher
	asm        *Assembler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, r := testutil.NewRunner(t)
	fs := afero.NewMemMapFs()
	dir, err := queue.NewDir(fs, models.QueueConfig{Dir: "/queue"})
	require.NoError(t, err)
	d := &recordingDispatcher{}
	return &harness{
		store:      s,
		runner:     r,
		fs:         fs,
		dir:        dir,
		dispatcher: d,
		asm:        NewAssembler(claim.NewResolver(r, logging.Discard()), dir, d, logging.Discard()),
	}
}

// imageMessage builds a multipart/mixed message with a text part followed by
// one base64 encoded part carrying partHeaders.
func imageMessage(subject string, partHeaders string, data []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: wearer@example.org\r\n")
	fmt.Fprintf(&b, "To: photos@tiedye.example\r\n")
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n\r\n")
	b.WriteString("--BOUNDARY\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString("here is my shirt\r\n")
	b.WriteString("--BOUNDARY\r\n")
	b.WriteString(partHeaders)
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	b.WriteString("\r\n--BOUNDARY--\r\n")
	return b.String()
}

func finalize(t *testing.T, asm *Assembler, raw string) (string, error) {
	t.Helper()
	msg := asm.NewMessage()
	_, err := msg.Write([]byte(raw))
	require.NoError(t, err)
	return msg.Finalize(context.Background())
}

func TestFinalizeQueuesFirstImage(t *testing.T) {
	h := newHarness(t)
	testutil.SeedPending(t, h.runner, "abc123", models.Owner{Kind: models.OwnerShirt, ID: 3})

	raw := imageMessage("abc123", "Content-Type: image/png\r\n", pngBytes)
	name, err := finalize(t, h.asm, raw)
	require.NoError(t, err)

	id, err := queue.ParseEntryName(name)
	require.NoError(t, err)
	assert.Equal(t, queue.EntryName(id, "photo.png"), name)

	data, err := afero.ReadFile(h.fs, h.dir.Path(name))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	photo := testutil.Photo(t, h.runner, id)
	assert.Nil(t, photo.Filename)
	assert.Equal(t, models.Owner{Kind: models.OwnerShirt, ID: 3}, photo.Owner)
	assert.Equal(t, 0, testutil.CountRows(t, h.store, "pending_photos"))
	assert.Equal(t, []string{name}, h.dispatcher.dispatched())
}

func TestFinalizeUsesAttachmentFilename(t *testing.T) {
	h := newHarness(t)
	testutil.SeedPending(t, h.runner, "tok", models.Owner{Kind: models.OwnerWearing, ID: 9})

	headers := "Content-Type: image/jpeg; name=\"ignored.gif\"\r\n" +
		"Content-Disposition: attachment; filename=\"C:\\\\Users\\\\me\\\\beach.JPG\"\r\n"
	name, err := finalize(t, h.asm, imageMessage("tok", headers, pngBytes))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, "-beach.JPG"), name)
}

func TestFinalizeFallsBackToContentTypeName(t *testing.T) {
	h := newHarness(t)
	testutil.SeedPending(t, h.runner, "tok", models.Owner{Kind: models.OwnerShirt, ID: 1})

	name, err := finalize(t, h.asm, imageMessage("tok", "Content-Type: image/gif; name=\"dance.gif\"\r\n", pngBytes))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, "-dance.gif"), name)
}

func TestFinalizeSinglePartImage(t *testing.T) {
	h := newHarness(t)
	testutil.SeedPending(t, h.runner, "solo", models.Owner{Kind: models.OwnerShirt, ID: 1})

	raw := "Subject: solo\r\n" +
		"Content-Type: IMAGE/JPEG\r\n" +
		"Content-Transfer-Encoding: base64\r\n\r\n" +
		base64.StdEncoding.EncodeToString(pngBytes) + "\r\n"
	name, err := finalize(t, h.asm, raw)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, "-photo.jpg"), name)
}

func TestFinalizeWithoutImageKeepsToken(t *testing.T) {
	h := newHarness(t)
	testutil.SeedPending(t, h.runner, "abc123", models.Owner{Kind: models.OwnerShirt, ID: 3})

	raw := "Subject: abc123\r\nContent-Type: text/plain\r\n\r\njust words\r\n"
	_, err := finalize(t, h.asm, raw)

	var formatErr *models.MessageFormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, models.NoAttachment, formatErr.Reason)
	assert.Equal(t, 1, testutil.CountRows(t, h.store, "pending_photos"))
	assert.Equal(t, 0, testutil.CountRows(t, h.store, "photos"))
	names, _ := h.dir.List()
	assert.Empty(t, names)
	assert.Empty(t, h.dispatcher.dispatched())
}

func TestFinalizeUndeterminedImageType(t *testing.T) {
	h := newHarness(t)
	testutil.SeedPending(t, h.runner, "abc123", models.Owner{Kind: models.OwnerShirt, ID: 3})

	_, err := finalize(t, h.asm, imageMessage("abc123", "Content-Type: image/x-unheard-of\r\n", pngBytes))

	var formatErr *models.MessageFormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, models.UndeterminedImageType, formatErr.Reason)
	assert.Equal(t, 1, testutil.CountRows(t, h.store, "pending_photos"))
}

func TestFinalizeUnparseableMessage(t *testing.T) {
	h := newHarness(t)

	_, err := finalize(t, h.asm, "this is not a header line\r\n\r\n")

	var formatErr *models.MessageFormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, models.Unparseable, formatErr.Reason)
}

func TestFinalizeUnknownTokenWritesNothing(t *testing.T) {
	h := newHarness(t)

	_, err := finalize(t, h.asm, imageMessage("nobody", "Content-Type: image/png\r\n", pngBytes))

	var claimErr *models.ClaimError
	require.ErrorAs(t, err, &claimErr)
	assert.Equal(t, "nobody", claimErr.Token)
	assert.Equal(t, 0, testutil.CountRows(t, h.store, "photos"))
	names, _ := h.dir.List()
	assert.Empty(t, names)
	staged, _ := afero.ReadDir(h.fs, "/queue/.incoming")
	assert.Empty(t, staged)
}

func TestFinalizeTokenUsedOnce(t *testing.T) {
	h := newHarness(t)
	testutil.SeedPending(t, h.runner, "once", models.Owner{Kind: models.OwnerShirt, ID: 5})
	raw := imageMessage("once", "Content-Type: image/png\r\n", pngBytes)

	_, err := finalize(t, h.asm, raw)
	require.NoError(t, err)
	_, err = finalize(t, h.asm, raw)

	var claimErr *models.ClaimError
	assert.ErrorAs(t, err, &claimErr)
	assert.Equal(t, 1, testutil.CountRows(t, h.store, "photos"))
}

func TestFinalizeIgnoresLaterImages(t *testing.T) {
	h := newHarness(t)
	testutil.SeedPending(t, h.runner, "two", models.Owner{Kind: models.OwnerShirt, ID: 5})

	raw := "Subject: two\r\n" +
		"Content-Type: multipart/mixed; boundary=\"B\"\r\n\r\n" +
		"--B\r\nContent-Type: image/png; name=\"first.png\"\r\n\r\nfirst\r\n" +
		"--B\r\nContent-Type: image/jpeg; name=\"second.jpg\"\r\n\r\nsecond\r\n" +
		"--B--\r\n"
	name, err := finalize(t, h.asm, raw)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, "-first.png"), name)

	data, err := afero.ReadFile(h.fs, h.dir.Path(name))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestFinalizePropagatesStoreErrors(t *testing.T) {
	h := newHarness(t)
	storeErr := &models.TransientStoreError{Op: "storage.Runner.Begin", Err: errors.New("connection refused")}
	asm := NewAssembler(failingClaimer{err: storeErr}, h.dir, h.dispatcher, logging.Discard())

	_, err := finalize(t, asm, imageMessage("abc123", "Content-Type: image/png\r\n", pngBytes))

	var transient *models.TransientStoreError
	assert.ErrorAs(t, err, &transient)
	names, _ := h.dir.List()
	assert.Empty(t, names)
}

func TestSplitFilename(t *testing.T) {
	cases := []struct {
		in, base, ext string
	}{
		{"", "photo", ""},
		{"beach.png", "beach", ".png"},
		{"../../etc/passwd.jpg", "passwd", ".jpg"},
		{`C:\photos\me.jpeg`, "me", ".jpeg"},
		{".png", "photo", ".png"},
		{"noext", "noext", ""},
		{"trailing.", "trailing", ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			base, ext := splitFilename(tc.in)
			assert.Equal(t, tc.base, base)
			assert.Equal(t, tc.ext, ext)
		})
	}
}

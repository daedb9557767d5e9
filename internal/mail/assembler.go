// Package mail accepts photos by email: the SMTP front end and the assembler
// that turns one received message into a queued photo.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"github.com/gabriel-vasile/mimetype"

	"tiedye/internal/models"
	"tiedye/internal/queue"
)

const defaultBasename = "photo"

// Claimer resolves a subject token into a photo id.
type Claimer interface {
	Resolve(ctx context.Context, token string) (int64, error)
}

// Dispatcher starts processing a freshly queued entry.
type Dispatcher interface {
	Dispatch(name string) bool
}

type Assembler struct {
	claims     Claimer
	dir        *queue.Dir
	dispatcher Dispatcher
	logger     *log.Logger
}

func NewAssembler(claims Claimer, dir *queue.Dir, dispatcher Dispatcher, logger *log.Logger) *Assembler {
	return &Assembler{claims: claims, dir: dir, dispatcher: dispatcher, logger: logger}
}

// NewMessage starts one mail transaction. Nothing is stored until Finalize.
func (a *Assembler) NewMessage() *Message {
	return &Message{a: a}
}

// Message accumulates the raw bytes of one message.
type Message struct {
	a   *Assembler
	buf bytes.Buffer
}

func (m *Message) Write(p []byte) (int, error) {
	return m.buf.Write(p)
}

func (m *Message) Len() int { return m.buf.Len() }

// imagePart is the first image part found in a message.
type imagePart struct {
	token string
	base  string
	ext   string
	data  []byte
}

// Finalize claims the subject token, queues the first image part and hands
// the entry to the dispatcher. It returns the queue entry name. A message that
// fails validation never consumes its token.
func (m *Message) Finalize(ctx context.Context) (string, error) {
	const op = "mail.Message.Finalize"
	a := m.a

	img, err := extractImage(&m.buf)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	photoID, err := a.claims.Resolve(ctx, img.token)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	name, err := a.dir.Place(photoID, img.base+img.ext, img.data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	a.logger.Info("photo queued", "photo", photoID, "file", name, "bytes", len(img.data))

	if a.dispatcher != nil {
		a.dispatcher.Dispatch(name)
	}
	return name, nil
}

var errFound = errors.New("image part found")

func extractImage(r io.Reader) (*imagePart, error) {
	e, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, &models.MessageFormatError{Reason: models.Unparseable, Err: err}
	}

	img := &imagePart{token: e.Header.Get("Subject")}
	found := false
	var formatErr error
	err = e.Walk(func(_ []int, part *message.Entity, partErr error) error {
		if part.MultipartReader() != nil {
			return nil
		}
		mediaType, _, err := part.Header.ContentType()
		if err != nil || !strings.HasPrefix(strings.ToLower(mediaType), "image/") {
			return nil
		}
		if message.IsUnknownEncoding(partErr) {
			return &models.MessageFormatError{Reason: models.Unparseable, Err: partErr}
		}

		filename, _ := (&gomail.AttachmentHeader{Header: part.Header}).Filename()
		img.base, img.ext = splitFilename(filename)
		if img.ext == "" {
			if mt := mimetype.Lookup(strings.ToLower(mediaType)); mt != nil {
				img.ext = mt.Extension()
			}
		}
		if img.ext == "" {
			formatErr = &models.MessageFormatError{Reason: models.UndeterminedImageType}
			return errFound
		}

		data, err := io.ReadAll(part.Body)
		if err != nil {
			return &models.MessageFormatError{Reason: models.Unparseable, Err: err}
		}
		img.data = data
		found = true
		return errFound
	})
	var mfe *models.MessageFormatError
	switch {
	case errors.As(err, &mfe):
		return nil, err
	case err != nil && !errors.Is(err, errFound):
		return nil, &models.MessageFormatError{Reason: models.Unparseable, Err: err}
	}
	if formatErr != nil {
		return nil, formatErr
	}
	if !found {
		return nil, &models.MessageFormatError{Reason: models.NoAttachment}
	}
	return img, nil
}

// splitFilename strips any client supplied directories from filename and
// splits it into stem and extension.
func splitFilename(filename string) (base, ext string) {
	filename = strings.ReplaceAll(filename, `\`, "/")
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "." || filename == "/" {
		filename = ""
	}
	ext = filepath.Ext(filename)
	base = strings.TrimPrefix(strings.TrimSuffix(filename, ext), ".")
	if ext == "." {
		ext = ""
	}
	if base == "" {
		base = defaultBasename
	}
	return base, ext
}

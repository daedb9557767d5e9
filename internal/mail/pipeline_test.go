package mail

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiedye/internal/claim"
	"tiedye/internal/logging"
	"tiedye/internal/models"
	"tiedye/internal/processor"
	"tiedye/internal/queue"
	"tiedye/internal/testutil"
	"tiedye/internal/worker"
)

func TestMailedPhotoIsPublished(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	s, r := testutil.NewRunner(t)
	root := t.TempDir()
	dir, err := queue.NewDir(afero.NewOsFs(), models.QueueConfig{Dir: filepath.Join(root, "queue")})
	require.NoError(t, err)
	public := filepath.Join(root, "public")
	require.NoError(t, os.MkdirAll(public, 0o755))

	conv, err := processor.NewCommandConverter([]string{"/bin/sh", "-c", `cp "$1" "$2"`, "convert"})
	require.NoError(t, err)
	proc := processor.New(r, dir, conv, public, logging.Discard())
	pool := worker.NewPool("process", 2)
	scanner := queue.NewScanner(dir, proc, pool, time.Hour, logging.Discard())
	t.Cleanup(scanner.Wait)

	h := &harness{
		store:  s,
		runner: r,
		fs:     dir.Fs(),
		dir:    dir,
		asm:    NewAssembler(claim.NewResolver(r, logging.Discard()), dir, scanner, logging.Discard()),
	}
	testutil.SeedPending(t, r, "abc123", models.Owner{Kind: models.OwnerShirt, ID: 3})
	addr, _ := startServer(t, h)
	c := dial(t, addr)

	require.NoError(t, send(t, c, imageMessage("abc123", "Content-Type: image/png\r\n", pngBytes)))
	scanner.Wait()

	names, err := dir.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	published, err := os.ReadDir(public)
	require.NoError(t, err)
	require.Len(t, published, 1)
	name := published[0].Name()
	assert.True(t, strings.HasSuffix(name, "-photo.png"), name)

	data, err := os.ReadFile(filepath.Join(public, name))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	id, err := queue.ParseEntryName(name)
	require.NoError(t, err)
	photo := testutil.Photo(t, r, id)
	require.NotNil(t, photo.Filename)
	assert.Equal(t, name, *photo.Filename)
	assert.Equal(t, 0, testutil.CountRows(t, s, "pending_photos"))
}

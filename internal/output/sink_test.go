package output

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifact_Filename(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 5, 7, 0, time.Local)
	assert.Equal(t, "briefing_news_2026-03-02_090507.md", Artifact{Kind: KindNews, CreatedAt: at}.Filename())
	assert.Equal(t, "briefing_quiz_2026-03-02_090507.md", Artifact{Kind: KindQuiz, CreatedAt: at}.Filename())
}

func TestFileSink_WritesAtomically(t *testing.T) {
	fsys := afero.NewMemMapFs()
	dir := filepath.Join("/notes", "_briefings")
	sink := NewFileSink(fsys, dir, zerolog.Nop())

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	ref, err := sink.Write(context.Background(), Artifact{Kind: KindNews, Content: "# News\n", CreatedAt: at})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "briefing_news_2026-03-02_090000.md"), ref)

	got, err := sink.Read(ref)
	require.NoError(t, err)
	assert.Equal(t, "# News\n", got)

	entries, err := afero.ReadDir(fsys, dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestFileSink_CollisionGetsSuffix(t *testing.T) {
	fsys := afero.NewMemMapFs()
	sink := NewFileSink(fsys, "/out", zerolog.Nop())
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)

	first, err := sink.Write(context.Background(), Artifact{Kind: KindQuiz, Content: "one", CreatedAt: at})
	require.NoError(t, err)
	second, err := sink.Write(context.Background(), Artifact{Kind: KindQuiz, Content: "two", CreatedAt: at})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, filepath.Join("/out", "briefing_quiz_2026-03-02_090000_1.md"), second)
	got, err := sink.Read(first)
	require.NoError(t, err)
	assert.Equal(t, "one", got)
}

func TestFileSink_CancelledContext(t *testing.T) {
	sink := NewFileSink(afero.NewMemMapFs(), "/out", zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sink.Write(ctx, Artifact{Kind: KindNews, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileSink_ReadOnlyFs(t *testing.T) {
	sink := NewFileSink(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/out", zerolog.Nop())
	_, err := sink.Write(context.Background(), Artifact{Kind: KindNews, CreatedAt: time.Now()})
	assert.Error(t, err)
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, Delivery) error {
	f.calls++
	return errors.New("unreachable")
}

func TestNotifiers(t *testing.T) {
	var buf bytes.Buffer
	logN := LogNotifier{Logger: zerolog.New(&buf)}
	bad := &failingNotifier{}

	err := Multi{bad, logN}.Notify(context.Background(), Delivery{Kind: KindQuiz, Path: "/out/q.md", Topics: []string{"a.md#x"}})
	assert.EqualError(t, err, "unreachable")
	assert.Equal(t, 1, bad.calls)
	assert.Contains(t, buf.String(), `"path":"/out/q.md"`)
	assert.Contains(t, buf.String(), `"briefing ready"`)
}

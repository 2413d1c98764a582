package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/store"
)

const runFeed = `
{"signal":{"id":"sig-open-1","source":"hardware","kind":"boundary.open","home_id":"home-1","zone":"front-door","zone_type":"entry","entry_point":"front","device_id":"contact-1","ingest_ms":1000}}
{"signal":{"id":"sig-hb-1","source":"health","kind":"health.heartbeat","home_id":"home-1","zone":"front-door","device_id":"cam-1","camera_role":"primary","ingest_ms":40000}}
`

// runWithFeed executes "warden run" against a feed piped on stdin; the
// run loop exits once the feed hits EOF and the queue drains.
func runWithFeed(t *testing.T, dbPath, feed string) string {
	t.Helper()
	root := NewRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(feed))
	root.SetArgs([]string{"run", "--db", dbPath})
	require.NoError(t, root.Execute())
	return out.String()
}

func TestRunProcessesFeedToCompletion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	runWithFeed(t, path, runFeed)

	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	sigs, err := st.ReadSignals(ctx)
	require.NoError(t, err)
	assert.Len(t, sigs, 2)

	recs, err := st.ReadAllTransitions(ctx)
	require.NoError(t, err)
	// Boundary open arms the entry delay; the heartbeat's clock advance
	// expires it into a full alarm.
	assert.Len(t, recs, 4)
}

func TestRunResumesClockAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.db")
	runWithFeed(t, path, runFeed)

	st, err := store.Open(path)
	require.NoError(t, err)
	before, err := st.MaxSeq(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	second := `{"signal":{"id":"sig-m1","source":"hardware","kind":"motion","home_id":"home-2","zone":"yard","zone_type":"perimeter","device_id":"pir-1","confidence":70,"ingest_ms":50000}}` + "\n"
	runWithFeed(t, path, second)

	st, err = store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	sigs, err := st.ReadSignals(ctx)
	require.NoError(t, err)
	require.Len(t, sigs, 3)
	for _, sig := range sigs {
		if sig.ID == "sig-m1" {
			assert.Greater(t, sig.Seq, before, "restarted engine must not reuse stored seqs")
		}
	}
}

func TestRunSkipsMalformedFeedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "malformed.db")
	feed := "not json\n" + runFeed
	runWithFeed(t, path, feed)

	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	sigs, err := st.ReadSignals(context.Background())
	require.NoError(t, err)
	assert.Len(t, sigs, 2)
}

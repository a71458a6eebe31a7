package importing_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/mohammadpnp/contact-import/internal/application/importing"
	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

func syncedWithOneFailure(t *testing.T) (*harness, string) {
	t.Helper()
	h := newHarness(t)
	id := h.seed(t, 3, 3)
	h.crm.failFor(emailFor(1), errors.New("invalid phone number"))
	_, err := h.sync.Execute(context.Background(), app.SyncSessionInput{SessionID: id}, nil)
	require.NoError(t, err)
	return h, id
}

func TestExportFlaggedRows(t *testing.T) {
	t.Parallel()

	h, id := syncedWithOneFailure(t)
	q := app.NewSessionQuery(h.repo, h.files, h.clock)

	out, err := q.Export(context.Background(), id, app.ExportFlagged)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Rows)
	assert.Equal(t, "contacts-flagged.csv", out.FileName)

	records, err := app.DecodeCSV(bytes.NewReader(out.Data))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, emailFor(1), records[0]["Email"])
	assert.Contains(t, records[0]["_error"], "invalid phone number")
}

func TestExportRoundTripKeepsRawColumns(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	id := h.seed(t, 3, 3)
	q := app.NewSessionQuery(h.repo, h.files, h.clock)

	before := h.rows(t, id)
	out, err := q.Export(context.Background(), id, app.ExportAll)
	require.NoError(t, err)

	records, err := app.DecodeCSV(bytes.NewReader(out.Data))
	require.NoError(t, err)
	require.Len(t, records, len(before))
	for i, row := range before {
		for k, v := range row.RawData {
			if _, overwritten := row.EnrichedData[k]; overwritten {
				continue
			}
			assert.Equal(t, v, records[i][k], "row %d column %s", i, k)
		}
	}

	_, err = q.Export(context.Background(), id, app.ExportClean)
	require.NoError(t, err)
}

func TestParseExportFilter(t *testing.T) {
	t.Parallel()

	f, err := app.ParseExportFilter("")
	require.NoError(t, err)
	assert.Equal(t, app.ExportAll, f)
	f, err = app.ParseExportFilter(" Flagged ")
	require.NoError(t, err)
	assert.Equal(t, app.ExportFlagged, f)
	_, err = app.ParseExportFilter("dirty")
	assert.True(t, errors.Is(err, app.ErrInvalidExportFilter))
}

func TestSessionDetailCountsSumToStoredRows(t *testing.T) {
	t.Parallel()

	h, id := syncedWithOneFailure(t)
	q := app.NewSessionQuery(h.repo, h.files, h.clock)

	detail, err := q.Detail(context.Background(), id)
	require.NoError(t, err)

	var sum int64
	for _, n := range detail.RowStatusCounts {
		sum += n
	}
	assert.Equal(t, int64(len(h.rows(t, id))), sum)
	assert.Equal(t, int64(1), detail.RowStatusCounts[domain.RowFailed])
	require.Len(t, detail.FailedRowDetails, 1)
	assert.Equal(t, int64(1), detail.FailedRowDetails[0].RowIndex)
	assert.Equal(t, domain.SessionFailed, detail.Session.Status)
	assert.True(t, detail.Session.HasFile)
}

func TestOriginalFileGoneAfterExpiry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	id := h.seed(t, 1, 3)
	q := app.NewSessionQuery(h.repo, h.files, h.clock)

	file, err := q.OriginalFile(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, "Email,Company\n", string(file.Data))

	h.now = h.now.Add(72 * time.Hour)
	_, err = q.OriginalFile(context.Background(), id)
	assert.True(t, errors.Is(err, app.ErrSessionExpired))
	_, err = q.Export(context.Background(), id, app.ExportAll)
	assert.True(t, errors.Is(err, app.ErrSessionExpired))

	_, err = q.Detail(context.Background(), "missing")
	assert.True(t, errors.Is(err, app.ErrSessionNotFound))
}

func TestPurgeIsIdempotent(t *testing.T) {
	t.Parallel()

	h, failedID := syncedWithOneFailure(t)
	liveID := h.seed(t, 2, 3)
	completedID := h.seed(t, 1, 3)
	_, err := h.sync.Execute(context.Background(), app.SyncSessionInput{SessionID: completedID}, nil)
	require.NoError(t, err)

	h.now = h.now.Add(72*time.Hour + time.Second)
	reaper := app.NewRetentionReaper(app.RetentionReaperDeps{Repo: h.repo, Files: h.files, Now: h.clock})

	first, err := reaper.Purge(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{failedID, liveID}, first.PurgedSessionIDs)
	assert.Equal(t, 2, first.PurgedCount)

	for _, id := range []string{failedID, liveID} {
		s := h.session(t, id)
		assert.Equal(t, domain.SessionExpired, s.Status)
		assert.Nil(t, s.File)
		assert.Contains(t, s.Note, "status was")
		assert.Empty(t, h.rows(t, id))
	}
	assert.Equal(t, domain.SessionCompleted, h.session(t, completedID).Status)

	snapshot := h.session(t, failedID)
	second, err := reaper.Purge(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.PurgedCount)
	assert.Equal(t, snapshot, h.session(t, failedID))
}

package importing_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/mohammadpnp/contact-import/internal/application/importing"
	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

func TestEventJSONShapes(t *testing.T) {
	t.Parallel()

	progress, err := json.Marshal(app.ProgressEvent(50, 120))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"progress","completed":50,"total":120}`, string(progress))

	result, err := json.Marshal(app.ResultEvent(domain.FailedOutcome(3, "boom")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"result","result":{"rowIndex":3,"contactId":"","matchedCompany":null,"matchConfidence":0,"matchType":"no_match","taskCreated":false,"error":"boom"}}`, string(result))

	failure, err := json.Marshal(app.ErrorEvent("internal error"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":"internal error"}`, string(failure))
}

func TestDecodeCSV(t *testing.T) {
	t.Parallel()

	rows, err := app.DecodeCSV(strings.NewReader("\ufeffEmail, Name\na@b.co,Ann\n\nc@d.co\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]string{"Email": "a@b.co", "Name": "Ann"}, rows[0])
	assert.Equal(t, map[string]string{"Email": "c@d.co", "Name": ""}, rows[1])

	_, err = app.DecodeCSV(strings.NewReader(""))
	assert.True(t, errors.Is(err, app.ErrInvalidSession))
}

func TestSyncContinuesWhenStreamBreaks(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	id := h.seed(t, 3, 3)
	calls := 0
	broken := app.EmitterFunc(func(app.Event) error {
		calls++
		return errors.New("broken pipe")
	})

	summary, err := h.sync.Execute(t.Context(), app.SyncSessionInput{SessionID: id}, broken)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, summary.Status)
	assert.Equal(t, 1, calls, "a broken stream is tried once and then silenced")
}

package echo

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	app "github.com/mohammadpnp/contact-import/internal/application/importing"
)

const mimeNDJSON = "application/x-ndjson"

// ndjsonStream writes one JSON event per line. Headers go out with the first
// event so that errors raised before any event still get a status code.
type ndjsonStream struct {
	res     *echo.Response
	started bool
}

func newNDJSONStream(res *echo.Response) *ndjsonStream {
	return &ndjsonStream{res: res}
}

func (s *ndjsonStream) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.res.Header()
	h.Set(echo.HeaderContentType, mimeNDJSON)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	s.res.WriteHeader(http.StatusOK)
}

func (s *ndjsonStream) Emit(event app.Event) error {
	s.start()
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := s.res.Write(line); err != nil {
		return err
	}
	s.res.Flush()
	return nil
}

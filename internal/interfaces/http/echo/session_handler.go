package echo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	app "github.com/mohammadpnp/contact-import/internal/application/importing"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

const headerAccountID = "X-Account-ID"

type createSessionUseCase interface {
	Execute(ctx context.Context, in app.CreateSessionInput) (app.CreateSessionOutput, error)
}

type enrichSessionUseCase interface {
	Execute(ctx context.Context, sessionID string) (app.EnrichSummary, error)
}

type syncSessionUseCase interface {
	Execute(ctx context.Context, in app.SyncSessionInput, emitter app.Emitter) (app.SyncSummary, error)
}

type sessionQueries interface {
	Detail(ctx context.Context, sessionID string) (app.SessionDetail, error)
	Export(ctx context.Context, sessionID string, filter app.ExportFilter) (app.ExportOutput, error)
	OriginalFile(ctx context.Context, sessionID string) (app.OriginalFile, error)
}

type deleteSessionUseCase interface {
	Execute(ctx context.Context, sessionID string) error
}

type purgeUseCase interface {
	Purge(ctx context.Context) (app.PurgeResult, error)
}

type SessionHandlerDeps struct {
	Create  createSessionUseCase
	Enrich  enrichSessionUseCase
	Sync    syncSessionUseCase
	Queries sessionQueries
	Delete  deleteSessionUseCase
	Purge   purgeUseCase
	Logger  *slog.Logger
}

type SessionHandler struct {
	create    createSessionUseCase
	enrich    enrichSessionUseCase
	sync      syncSessionUseCase
	queries   sessionQueries
	delete    deleteSessionUseCase
	purge     purgeUseCase
	logger    *slog.Logger
	validator *requestValidator
}

func NewSessionHandler(deps SessionHandlerDeps) (*SessionHandler, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	return &SessionHandler{
		create:    deps.Create,
		enrich:    deps.Enrich,
		sync:      deps.Sync,
		queries:   deps.Queries,
		delete:    deps.Delete,
		purge:     deps.Purge,
		logger:    logging.OrDefault(deps.Logger),
		validator: validator,
	}, nil
}

// CreateSession accepts either a JSON document or a raw text/csv upload.
func (h *SessionHandler) CreateSession(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return badRequest(c, "bad_request", "failed to read request body")
	}

	in := app.CreateSessionInput{
		AccountID: strings.TrimSpace(c.Request().Header.Get(headerAccountID)),
		File:      body,
	}
	mediaType, _, _ := mime.ParseMediaType(c.Request().Header.Get(echo.HeaderContentType))

	switch mediaType {
	case echo.MIMEApplicationJSON:
		if err := h.validator.validate(body); err != nil {
			return badRequest(c, "invalid_request", err.Error())
		}
		var req createSessionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return badRequest(c, "bad_request", "invalid request body")
		}
		in.FileName = req.FileName
		in.Rows = req.Rows
		in.FieldMappings = req.FieldMappings
		in.EnrichmentConfigIDs = req.EnrichmentConfigIDs
		in.ContentType = echo.MIMEApplicationJSON
	case "text/csv":
		rows, err := app.DecodeCSV(strings.NewReader(string(body)))
		if err != nil {
			return badRequest(c, "invalid_csv", err.Error())
		}
		mappings, err := parseMappings(c.QueryParams()["mapping"])
		if err != nil {
			return badRequest(c, "invalid_mapping", err.Error())
		}
		in.FileName = c.QueryParam("fileName")
		in.Rows = rows
		in.FieldMappings = mappings
		in.EnrichmentConfigIDs = c.QueryParams()["enrichment"]
		in.ContentType = "text/csv"
	default:
		return c.JSON(http.StatusUnsupportedMediaType, apiResponse{Error: &errorBody{
			Code:    "unsupported_media_type",
			Message: "content type must be application/json or text/csv",
		}})
	}

	out, err := h.create.Execute(c.Request().Context(), in)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, apiResponse{Data: out})
}

func (h *SessionHandler) EnrichSession(c echo.Context) error {
	out, err := h.enrich.Execute(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, apiResponse{Data: out})
}

type syncRequest struct {
	TaskAssigneeID string `json:"taskAssigneeId"`
}

// SyncSession streams progress as NDJSON. The run is detached from the
// request so a client that goes away does not stop it; DELETE cancels.
func (h *SessionHandler) SyncSession(c echo.Context) error {
	var req syncRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "bad_request", "invalid request body")
		}
	}
	if req.TaskAssigneeID == "" {
		req.TaskAssigneeID = c.QueryParam("taskAssigneeId")
	}

	stream := newNDJSONStream(c.Response())
	ctx := context.WithoutCancel(c.Request().Context())
	_, err := h.sync.Execute(ctx, app.SyncSessionInput{
		SessionID:      c.Param("id"),
		TaskAssigneeID: req.TaskAssigneeID,
	}, stream)
	if err != nil {
		if !stream.started {
			return writeError(c, h.logger, err)
		}
		h.logger.Error("sync stream ended with error", "session_id", c.Param("id"), "err", err)
		if emitErr := stream.Emit(app.ErrorEvent(streamErrorMessage(err))); emitErr != nil {
			h.logger.Debug("final sync error event not delivered", "session_id", c.Param("id"), "err", emitErr)
		}
		return nil
	}
	stream.start()
	return nil
}

func streamErrorMessage(err error) string {
	if errors.Is(err, app.ErrAuthExpired) {
		return app.AuthRemediationMessage
	}
	_, body := errorStatus(err)
	return body.Message
}

func (h *SessionHandler) GetSession(c echo.Context) error {
	out, err := h.queries.Detail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, apiResponse{Data: out})
}

func (h *SessionHandler) DeleteSession(c echo.Context) error {
	if err := h.delete.Execute(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionHandler) ExportSession(c echo.Context) error {
	filter, err := app.ParseExportFilter(c.QueryParam("filter"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	out, err := h.queries.Export(c.Request().Context(), c.Param("id"), filter)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, attachment(out.FileName))
	c.Response().Header().Set("X-Row-Count", fmt.Sprint(out.Rows))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", out.Data)
}

func (h *SessionHandler) DownloadOriginal(c echo.Context) error {
	out, err := h.queries.OriginalFile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, attachment(out.FileName))
	return c.Blob(http.StatusOK, out.ContentType, out.Data)
}

func (h *SessionHandler) PurgeExpired(c echo.Context) error {
	out, err := h.purge.Purge(c.Request().Context())
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, apiResponse{Data: out})
}

func attachment(fileName string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": fileName})
}

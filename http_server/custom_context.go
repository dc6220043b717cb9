package http_server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danthegoodman1/icetier/datastore"
	"github.com/danthegoodman1/icetier/db"
	"github.com/danthegoodman1/icetier/gologger"
	"github.com/danthegoodman1/icetier/mutablebuffer"
	"github.com/danthegoodman1/icetier/partitioner"
	"github.com/danthegoodman1/icetier/query"
	"github.com/danthegoodman1/icetier/readbuffer"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type CustomContext struct {
	echo.Context
	RequestID string
}

func CreateReqContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := uuid.NewString()
		ctx := context.WithValue(c.Request().Context(), gologger.ReqIDKey, reqID)
		ctx = logger.WithContext(ctx)
		c.SetRequest(c.Request().WithContext(ctx))
		logger := zerolog.Ctx(ctx)
		logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("reqID", reqID)
		})
		cc := &CustomContext{
			Context:   c,
			RequestID: reqID,
		}
		return next(cc)
	}
}

// Casts to custom context for the handler, so this doesn't have to be done per handler
func ccHandler(h func(*CustomContext) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		return h(c.(*CustomContext))
	}
}

func (c *CustomContext) internalErrorMessage() string {
	return "internal error, request id: " + c.RequestID
}

func (c *CustomContext) InternalError(err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		zerolog.Ctx(c.Request().Context()).Warn().CallerSkipFrame(1).Msg(err.Error())
	} else {
		zerolog.Ctx(c.Request().Context()).Error().CallerSkipFrame(1).Err(err).Msg(msg)
	}
	return c.String(http.StatusInternalServerError, c.internalErrorMessage())
}

// DBError answers with the status matching a catalog or tier error, falling
// back to InternalError.
func (c *CustomContext) DBError(err error, msg string) error {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		return c.InternalError(err, msg)
	}
	zerolog.Ctx(c.Request().Context()).Debug().CallerSkipFrame(1).Err(err).Int("status", status).Msg(msg)
	return c.String(status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, db.ErrPartitionNotFound),
		errors.Is(err, db.ErrChunkNotFound),
		errors.Is(err, query.ErrNoRowsInTable),
		errors.Is(err, mutablebuffer.ErrTableNotFound),
		errors.Is(err, readbuffer.ErrTableNotFound),
		errors.Is(err, datastore.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrChunkNotClosed),
		errors.Is(err, db.ErrWrongTier),
		errors.Is(err, db.ErrAlreadyLoaded),
		errors.Is(err, query.ErrSchemaIncompatible),
		errors.Is(err, mutablebuffer.ErrColumnTypeMismatch):
		return http.StatusConflict
	case errors.Is(err, query.ErrInvalidProjection),
		errors.Is(err, db.ErrPredicateConversion),
		errors.Is(err, mutablebuffer.ErrUnsupportedValue),
		errors.Is(err, mutablebuffer.ErrColumnNotFound),
		errors.Is(err, readbuffer.ErrColumnNotFound),
		errors.Is(err, partitioner.ErrMissingColumns),
		errors.Is(err, partitioner.ErrInvalidColumnType):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrUnimplemented):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

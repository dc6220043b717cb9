package http_server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type (
	InsertReqBody struct {
		Table string `validate:"required"`
		// Line-delimited JSON (NDJSON)
		RowsString *string
		// Array of JSON
		Rows []map[string]any
	}

	InsertStats struct {
		NumRows int64
		TimeMS  int64
	}
)

func (s *HTTPServer) InsertHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*60)
	defer cancel()

	logger := zerolog.Ctx(ctx)

	start := time.Now()

	var reqBody InsertReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	rows := reqBody.Rows
	if reqBody.RowsString != nil {
		parsed, err := parseNDJSON(*reqBody.RowsString)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		rows = append(rows, parsed...)
	}

	if len(rows) == 0 {
		return c.String(http.StatusBadRequest, "no rows found")
	}

	if err := s.DB.WriteRows(ctx, reqBody.Table, rows); err != nil {
		return c.DBError(err, "error writing rows")
	}

	stats := InsertStats{
		NumRows: int64(len(rows)),
		TimeMS:  time.Since(start).Milliseconds(),
	}
	logger.Debug().Str("table", reqBody.Table).Interface("stats", stats).Msg("inserted rows")

	return c.JSON(http.StatusAccepted, stats)
}

// maxRowBytes bounds a single NDJSON line.
const maxRowBytes = 4 << 20

// parseNDJSON decodes one JSON object per non-blank line.
func parseNDJSON(body string) ([]map[string]any, error) {
	var rows []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxRowBytes)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(line, &row); err != nil || row == nil {
			return nil, fmt.Errorf("line %d was not a JSON object", lineNum)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading rows: %w", err)
	}
	return rows, nil
}

package http_server

import (
	"net/http"
)

type (
	column struct {
		Name string
		// the arrow type name, ex: utf8, float64
		Type     string
		Nullable bool
	}

	ListTablesRes struct {
		Tables []string
	}
)

func (s *HTTPServer) ListTables(c *CustomContext) error {
	names, err := s.DB.TableNames(c.Request().Context(), nil)
	if err != nil {
		return c.DBError(err, "error getting table names")
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, ListTablesRes{Tables: names})
}

func (s *HTTPServer) GetTableSchema(c *CustomContext) error {
	provider, err := s.DB.TableProvider(c.Request().Context(), c.Param("table"))
	if err != nil {
		return c.DBError(err, "error getting table provider")
	}

	schema := provider.Schema()
	columns := make([]column, 0, schema.NumFields())
	for _, f := range schema.Fields() {
		columns = append(columns, column{
			Name:     f.Name,
			Type:     f.Type.String(),
			Nullable: f.Nullable,
		})
	}
	return c.JSON(http.StatusOK, columns)
}

func (s *HTTPServer) GetTableStats(c *CustomContext) error {
	provider, err := s.DB.TableProvider(c.Request().Context(), c.Param("table"))
	if err != nil {
		return c.DBError(err, "error getting table provider")
	}

	stats, err := provider.Statistics()
	if err != nil {
		return c.DBError(err, "error getting table statistics")
	}
	return c.JSON(http.StatusOK, stats)
}

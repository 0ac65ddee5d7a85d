package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Country is one row of the countries directory table, validated at the
// boundary so cache code only sees known-good records.
type Country struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Folder string `json:"folder_name"`
}

// Directory lists the countries the catalog aggregates imagery for.
type Directory interface {
	Countries(ctx context.Context) ([]Country, error)
}

type rowQuerier interface {
	Select(ctx context.Context, table string, query url.Values, dest any) error
}

type rowDirectory struct {
	rows rowQuerier
}

// NewDirectory builds a Directory backed by the countries table of the row
// store.
func NewDirectory(rows rowQuerier) Directory {
	return &rowDirectory{rows: rows}
}

func (d *rowDirectory) Countries(ctx context.Context) ([]Country, error) {
	query := url.Values{
		"select": []string{"name,code,folder_name"},
		"order":  []string{"name.asc"},
	}
	var rows []Country
	if err := d.rows.Select(ctx, "countries", query, &rows); err != nil {
		return nil, fmt.Errorf("catalog: list countries: %w", err)
	}

	countries := rows[:0]
	for _, row := range rows {
		if strings.TrimSpace(row.Name) == "" || strings.TrimSpace(row.Folder) == "" {
			continue
		}
		countries = append(countries, row)
	}
	return countries, nil
}

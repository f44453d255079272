package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/aelexs/session-gateway/internal/api"
)

type format string

const (
	formatTable format = "table"
	formatJSON  format = "json"
)

func parseFormat(s string) (format, error) {
	switch format(s) {
	case formatTable, "":
		return formatTable, nil
	case formatJSON:
		return formatJSON, nil
	default:
		return "", fmt.Errorf("invalid output format %q (valid: table, json)", s)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// printPairs writes a two column FIELD/VALUE table.
func printPairs(w io.Writer, pairs [][2]string) {
	table := newTable(w)
	table.SetHeader([]string{"Field", "Value"})
	for _, p := range pairs {
		table.Append([]string{p[0], p[1]})
	}
	table.Render()
}

func printProfile(w io.Writer, f format, p api.Profile) error {
	if f == formatJSON {
		return printJSON(w, p)
	}
	printPairs(w, [][2]string{
		{"User ID", p.UserID},
		{"Username", p.Username},
		{"Display Name", p.DisplayName},
		{"Email", valueOrDash(p.Email)},
	})
	return nil
}

func printOrders(w io.Writer, f format, orders []api.Order) error {
	if f == formatJSON {
		if orders == nil {
			orders = []api.Order{}
		}
		return printJSON(w, orders)
	}
	if len(orders) == 0 {
		fmt.Fprintln(w, "No orders.")
		return nil
	}
	table := newTable(w)
	table.SetHeader([]string{"ID", "Item", "Quantity", "Created"})
	for _, o := range orders {
		table.Append([]string{o.ID, o.Item, strconv.Itoa(o.Quantity), o.CreatedAt.Format(time.RFC3339)})
	}
	table.Render()
	return nil
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

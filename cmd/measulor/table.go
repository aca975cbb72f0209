package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/example/measulor/internal/avatar"
	"github.com/example/measulor/internal/measurement"
)

// renderTable draws rows under header in a rounded box. Cells are formatted
// by the matching column config, so callers can pass raw values.
func renderTable(header table.Row, rows []table.Row, columns ...table.ColumnConfig) string {
	if len(header) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.SetColumnConfigs(columns)
	return tw.Render()
}

// numberColumn right-aligns column n and prints its values with format.
func numberColumn(n int, format string) table.ColumnConfig {
	return table.ColumnConfig{
		Number:      n,
		Align:       text.AlignRight,
		AlignHeader: text.AlignLeft,
		Transformer: func(v interface{}) string {
			if f, ok := v.(float64); ok {
				return fmt.Sprintf(format, f)
			}
			return fmt.Sprint(v)
		},
	}
}

func renderMeasurements(set measurement.Set) string {
	rows := make([]table.Row, 0, len(set))
	for _, e := range set {
		rows = append(rows, table.Row{e.Name, e.Value})
	}
	return renderTable(table.Row{"Measurement", "Value"}, rows, numberColumn(2, "%.1f cm"))
}

func renderDimensions(d avatar.Dimensions) string {
	rows := []table.Row{
		{"Shoulder width", d.ShoulderWidth},
		{"Arm length", d.ArmLength},
		{"Torso length", d.TorsoLength},
		{"Hip width", d.HipWidth},
		{"Leg length", d.LegLength},
		{"Head radius", d.HeadRadius},
	}
	return renderTable(table.Row{"Avatar", "Units"}, rows, numberColumn(2, "%.3f"))
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

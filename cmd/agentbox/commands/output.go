package commands

import (
	"io"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/printer"
)

const (
	// OutputFormatTable is the table output format.
	OutputFormatTable = "table"
	// OutputFormatJSON is the JSON output format.
	OutputFormatJSON = "json"
)

// registerOutputFlag adds the output format flag to a command.
func registerOutputFlag(cmd *kingpin.CmdClause, format *string) {
	cmd.Flag("output", "Output format.").Short('o').Default(OutputFormatTable).EnumVar(format, OutputFormatTable, OutputFormatJSON)
}

// newPrinter creates the printer for the selected output format.
func newPrinter(format string, w io.Writer) printer.Printer {
	if format == OutputFormatJSON {
		return printer.NewJSONPrinter(w)
	}
	return printer.NewTablePrinter(w)
}

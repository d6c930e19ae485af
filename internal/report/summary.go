package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/lsm/rolewatch/internal/dataset"
)

// WriteSummary writes the per-role member counts as a table.
func WriteSummary(w io.Writer, ds *dataset.Dataset) error {
	counts := ds.RoleCounts()
	if len(counts) == 0 {
		_, err := fmt.Fprintln(w, "No role members found.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithHeader([]string{"Role", "Members"}),
		tablewriter.WithRendition(
			tw.Rendition{
				Borders: tw.Border{
					Left:   tw.State(1),
					Top:    tw.State(1),
					Right:  tw.State(1),
					Bottom: tw.State(1),
				},
			},
		),
		tablewriter.WithAlignment(tw.MakeAlign(2, tw.AlignLeft)),
	)

	for _, rc := range counts {
		if err := table.Append([]string{rc.Role, strconv.Itoa(rc.Count)}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	if err := table.Append([]string{"TOTAL", strconv.Itoa(ds.Len())}); err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

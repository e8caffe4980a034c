package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"

	"go.viam.com/wifimodule/inflight"
	"go.viam.com/wifimodule/spwf04sx"
)

// socketTable renders the module's socket list. Each line is colon separated, id first.
func socketTable(lines []string) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"ID", "Remote", "Port", "Kind"})
	t.AppendRows(lo.Map(lines, func(line string, _ int) table.Row {
		fields := strings.SplitN(line, ":", 4)
		row := table.Row{"", "", "", ""}
		for i, field := range fields {
			row[i] = field
		}
		return row
	}))
	return t.Render()
}

func statusTable(status spwf04sx.Status) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Running", "State", "Pending", "Operations in use"})
	t.AppendRow([]interface{}{
		status.Running,
		status.State.String(),
		status.Pending,
		fmt.Sprintf("%d/%d", status.PoolSize-status.PoolAvailable, status.PoolSize),
	})
	return t.Render()
}

// callsTable renders in-flight calls, oldest first.
func callsTable(calls []*inflight.Call, now time.Time) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "ID", "Method", "Arguments", "Waiting"})
	for i, call := range calls {
		t.AppendRow([]interface{}{
			fmt.Sprintf("%d", i+1),
			call.ID.String(),
			call.Method,
			fmt.Sprintf("%v", call.Arguments),
			now.Sub(call.Started).Truncate(time.Millisecond).String(),
		})
	}
	return t.Render()
}

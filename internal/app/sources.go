package app

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
)

// Sources prints the configured fleet without touching the network.
func (a *App) Sources() error {
	if len(a.Config.Sources) == 0 {
		fmt.Fprintln(os.Stdout, "no sources configured")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tKind\tBase URL\tMax\tState")
	for _, sc := range a.Config.Sources {
		state := "enabled"
		if sc.Disabled {
			state = "disabled"
		}
		max := "-"
		if sc.MaxResults > 0 {
			max = strconv.Itoa(sc.MaxResults)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", sc.ID, sc.Kind, sc.BaseURL, max, state)
	}
	writer.Flush()
	return nil
}

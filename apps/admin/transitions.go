package main

import (
	"fmt"
	"text/tabwriter"
)

func (cli *commandLine) printTransitions() error {
	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FROM\tROLE\tACTION\tTO\tACTOR\tNOTES")
	for _, rule := range cli.modalitySvc.Engine().Rules() {
		notes := ""
		if rule.NeedsNotes() {
			notes = "required"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", rule.From, rule.Role, rule.Action, rule.Target(), rule.Who(), notes)
	}
	return w.Flush()
}

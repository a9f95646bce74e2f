package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/andrew/chat-thread-search/pkg/models"
)

const replyIndent = 4

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	replyColor  = color.New(color.FgHiBlack)
	scoreColor  = color.New(color.FgYellow)
)

// renderThreads writes one block per seed: a "date | sender" header, the
// message, then every reply indented by its depth
func renderThreads(w io.Writer, results []models.ThreadResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No matching messages.")
		return
	}
	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s %s\n", headerColor.Sprint(header(res.Seed)), scoreColor.Sprintf("[%.3f]", res.Score))
		fmt.Fprintln(w, res.Seed.Text)
		for _, reply := range res.Replies {
			pad := strings.Repeat(" ", reply.Depth*replyIndent)
			fmt.Fprintf(w, "%s%s\n", pad, replyColor.Sprint(header(reply.Record)))
			for _, line := range strings.Split(reply.Record.Text, "\n") {
				fmt.Fprintf(w, "%s%s\n", pad, line)
			}
		}
	}
}

func header(r models.MessageRecord) string {
	return fmt.Sprintf("%s | %s", r.Timestamp, r.Sender())
}

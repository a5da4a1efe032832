package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/strrl/worktrack/pkg/models"
)

// PromptLines is the plain-text prompt used when stdin is not a terminal.
// A number picks a listed choice, anything else is taken as the description.
// Empty input re-asks. End of input aborts.
func PromptLines(ctx context.Context, in io.Reader, out io.Writer, req models.FeatureRequest) (string, error) {
	choices := buildChoices(req)

	fmt.Fprintf(out, "Session ended: %s\n%s\n\nWhat did you work on?\n", req.ProjectName, renderDetails(req))
	for i, c := range choices {
		fmt.Fprintf(out, "  %d. %s\n", i+1, c.label)
	}

	reader := bufio.NewReader(in)
	typing := false
	for {
		if err := ctx.Err(); err != nil {
			return "", ErrPromptAborted
		}

		if typing {
			fmt.Fprint(out, "Description: ")
		} else {
			fmt.Fprintf(out, "Choice [1-%d] or description: ", len(choices))
		}

		line, err := reader.ReadString('\n')
		text := strings.TrimSpace(line)
		if err != nil && text == "" {
			return "", ErrPromptAborted
		}

		if text == "" {
			fmt.Fprintln(out, "Description cannot be empty")
			continue
		}

		if !typing {
			if n, convErr := strconv.Atoi(text); convErr == nil && n >= 1 && n <= len(choices) {
				c := choices[n-1]
				if c.kind == choiceOther {
					typing = true
					continue
				}
				return c.text, nil
			}
		}
		return text, nil
	}
}

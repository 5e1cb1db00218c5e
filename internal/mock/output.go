package mock

import (
	"fmt"
	"io"
	"os"
)

// Output is what a mock run reports for downstream CI steps.
type Output struct {
	Branch   string `json:"branch"`
	PRNumber int    `json:"pr_number"`
	PRURL    string `json:"pr_url"`
	Tag      string `json:"tag"`
}

// Emit appends step outputs to the GITHUB_OUTPUT file when githubOutput is
// set, and otherwise prints them to w.
func (o Output) Emit(githubOutput string, w io.Writer) error {
	if githubOutput == "" {
		_, err := fmt.Fprintf(w, "MOCK_BRANCH=%s\nMOCK_PR_NUMBER=%d\nMOCK_PR_URL=%s\nMOCK_TAG=%s\n",
			o.Branch, o.PRNumber, o.PRURL, o.Tag)
		return err
	}
	f, err := os.OpenFile(githubOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open GITHUB_OUTPUT: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "mock_branch=%s\nmock_pr_number=%d\nmock_pr_url=%s\nmock_tag=%s\n",
		o.Branch, o.PRNumber, o.PRURL, o.Tag)
	return err
}

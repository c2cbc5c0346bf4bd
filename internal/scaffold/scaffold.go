// Package scaffold writes the orchestration/bootstrap doc every session in
// a new run reads before its first prompt: a YAML front-matter block
// naming the run and its peers, followed by a short markdown body.
package scaffold

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fyp-systems/fyp-core/pkg/types"
)

// docName is the scaffold file written into each session's working
// directory (coordinator and every worker).
const docName = "ORCHESTRATION.md"

// frontMatter is the YAML header identifying the run and the reader's role
// within it.
type frontMatter struct {
	OrchestrationID string   `yaml:"orchestrationId"`
	Name            string   `yaml:"name"`
	Role            string   `yaml:"role"`
	Peers           []string `yaml:"peers"`
}

// Writer implements orchestrator.Scaffolder by writing one ORCHESTRATION.md
// per session root (coordinator's projectPath and each worker's
// worktree/project path).
type Writer struct{}

// New returns a Writer.
func New() *Writer {
	return &Writer{}
}

// WriteScaffold writes o's scaffold doc into the coordinator's project root
// and every worker's root. Any single write failure aborts the whole call
// so Create's rollback sees a clean failure.
func (sw *Writer) WriteScaffold(ctx context.Context, o types.Orchestration) error {
	peers := make([]string, 0, len(o.Workers)+1)
	peers = append(peers, "coordinator")
	for _, w := range o.Workers {
		peers = append(peers, w.Name)
	}

	if err := writeDoc(o.ProjectPath, frontMatter{
		OrchestrationID: o.ID, Name: o.Name, Role: "coordinator", Peers: peers,
	}, o); err != nil {
		return err
	}

	for _, w := range o.Workers {
		root := w.WorktreePath
		if root == "" {
			root = w.ProjectPath
		}
		if err := writeDoc(root, frontMatter{
			OrchestrationID: o.ID, Name: o.Name, Role: w.Role, Peers: peers,
		}, o); err != nil {
			return err
		}
	}
	return nil
}

func writeDoc(root string, fm frontMatter, o types.Orchestration) error {
	if root == "" {
		return nil
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}

	var body strings.Builder
	body.WriteString("---\n")
	body.Write(header)
	body.WriteString("---\n\n")
	fmt.Fprintf(&body, "# %s\n\n", o.Name)
	fmt.Fprintf(&body, "You are **%s** in this orchestration. Peers:\n\n", fm.Role)
	for _, p := range fm.Peers {
		fmt.Fprintf(&body, "- %s\n", p)
	}
	body.WriteString("\nUse the attention inbox for anything that needs operator sign-off; sync digests arrive periodically.\n")

	return os.WriteFile(filepath.Join(root, docName), []byte(body.String()), 0644)
}

package interp

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// BashCommand is one parsed command from a captured "Would you like to run
// the following command?" snippet.
type BashCommand struct {
	Name       string
	Args       []string
	Subcommand string
}

// ParseBashCommand splits a shell command line into its constituent simple
// commands. It never errors fatally on unparseable input: a parse failure
// just yields no commands, since this only feeds "don't ask again for
// prefix" pattern derivation, never a security decision.
func ParseBashCommand(command string) []BashCommand {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(false))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil
	}

	var commands []BashCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractBashCommand(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})
	return commands
}

func extractBashCommand(call *syntax.CallExpr) *BashCommand {
	if len(call.Args) == 0 {
		return nil
	}
	cmd := &BashCommand{Name: wordToString(call.Args[0])}
	if cmd.Name == "" {
		return nil
	}
	for _, arg := range call.Args[1:] {
		s := wordToString(arg)
		cmd.Args = append(cmd.Args, s)
		if cmd.Subcommand == "" && !strings.HasPrefix(s, "-") {
			cmd.Subcommand = s
		}
	}
	return cmd
}

func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// BashPrefixPattern derives the "don't ask again for this prefix" pattern
// for cmd: "git commit *" when a subcommand is present, else "name *".
func BashPrefixPattern(cmd BashCommand) string {
	if cmd.Subcommand != "" {
		return cmd.Name + " " + cmd.Subcommand + " *"
	}
	return cmd.Name + " *"
}

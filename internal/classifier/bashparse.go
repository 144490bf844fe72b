package classifier

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ParsedCommand is a tokenized view of a shell command line, used only to
// extract supplementary resource information (e.g. for an approval
// request's resource list). It plays no part in the Classify precedence
// chain, which matches on the raw command string to stay literal to the
// reference pattern tables.
type ParsedCommand struct {
	Name string
	Args []string
}

// ParseCommandLine tokenizes a full command line with a bash-aware parser
// so callers get real argument boundaries instead of a naive string split.
// Commands the parser cannot tokenize (rare shell syntax edge cases) fall
// back to a plain whitespace split rather than failing the caller.
func ParseCommandLine(line string) []ParsedCommand {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return []ParsedCommand{fallbackSplit(line)}
	}

	var commands []ParsedCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractParsedCommand(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})

	if len(commands) == 0 {
		return []ParsedCommand{fallbackSplit(line)}
	}
	return commands
}

func fallbackSplit(line string) ParsedCommand {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ParsedCommand{}
	}
	return ParsedCommand{Name: fields[0], Args: fields[1:]}
}

func extractParsedCommand(call *syntax.CallExpr) *ParsedCommand {
	if len(call.Args) == 0 {
		return nil
	}
	cmd := &ParsedCommand{Name: wordToString(call.Args[0])}
	if cmd.Name == "" {
		return nil
	}
	for _, arg := range call.Args[1:] {
		cmd.Args = append(cmd.Args, wordToString(arg))
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

// ExtractPathArgs returns the subset of a parsed command's arguments that
// look like filesystem paths, for use in an approval request's resource
// list. It skips flags but is otherwise a simple heuristic, not a security
// boundary — path confinement is enforced separately by the dispatcher.
func ExtractPathArgs(cmd ParsedCommand) []string {
	var paths []string
	for _, arg := range cmd.Args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if strings.HasPrefix(arg, "/") || strings.HasPrefix(arg, "./") || strings.HasPrefix(arg, "../") {
			paths = append(paths, arg)
		}
	}
	return paths
}

// Describe renders a ParsedCommand back to a single display string, used
// for building an approval request's human-readable intent.
func Describe(cmd ParsedCommand) string {
	if len(cmd.Args) == 0 {
		return cmd.Name
	}
	return fmt.Sprintf("%s %s", cmd.Name, strings.Join(cmd.Args, " "))
}

package checkpoint

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Command is one simple command found in a shell line.
type Command struct {
	Name       string   // e.g. "rm", "git"
	Args       []string // arguments after the name
	Subcommand string   // first non-flag argument, e.g. "reset" in "git reset --hard"
}

// ParseCommands extracts every simple command from a bash line, including
// those inside pipelines, lists and command substitutions.
func ParseCommands(line string) ([]Command, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var commands []Command
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd, ok := commandOf(call); ok {
				commands = append(commands, cmd)
			}
		}
		return true
	})
	return commands, nil
}

func commandOf(call *syntax.CallExpr) (Command, bool) {
	if len(call.Args) == 0 {
		return Command{}, false
	}
	cmd := Command{Name: wordString(call.Args[0])}
	if cmd.Name == "" {
		return Command{}, false
	}
	// sudo rm ... is an rm.
	args := call.Args[1:]
	if cmd.Name == "sudo" && len(args) > 0 {
		cmd.Name = wordString(args[0])
		args = args[1:]
	}
	for _, w := range args {
		arg := wordString(w)
		cmd.Args = append(cmd.Args, arg)
		if cmd.Subcommand == "" && !strings.HasPrefix(arg, "-") {
			cmd.Subcommand = arg
		}
	}
	return cmd, true
}

func wordString(word *syntax.Word) string {
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

// destructiveCommands change or remove files named in their arguments.
var destructiveCommands = map[string]bool{
	"rm":       true,
	"rmdir":    true,
	"mv":       true,
	"cp":       true,
	"dd":       true,
	"truncate": true,
	"chmod":    true,
	"chown":    true,
	"ln":       true,
	"patch":    true,
	"tee":      true,
}

// destructiveGit are git subcommands that rewrite the working tree.
var destructiveGit = map[string]bool{
	"reset":       true,
	"checkout":    true,
	"switch":      true,
	"restore":     true,
	"clean":       true,
	"rebase":      true,
	"merge":       true,
	"pull":        true,
	"stash":       true,
	"rm":          true,
	"mv":          true,
	"apply":       true,
	"am":          true,
	"cherry-pick": true,
	"revert":      true,
}

// IsDestructive reports whether cmd may modify the working tree.
func (c Command) IsDestructive() bool {
	switch {
	case destructiveCommands[c.Name]:
		return true
	case c.Name == "git":
		return destructiveGit[c.Subcommand]
	case c.Name == "sed" || c.Name == "perl":
		return hasFlagPrefix(c.Args, "-i")
	case c.Name == "find":
		return hasFlag(c.Args, "-delete") || hasFlag(c.Args, "-exec")
	}
	return false
}

// Paths returns the file operands of a destructive command.
func (c Command) Paths() []string {
	if !destructiveCommands[c.Name] {
		return nil
	}
	var paths []string
	for i, arg := range c.Args {
		if strings.HasPrefix(arg, "-") || strings.Contains(arg, "$") {
			continue
		}
		// chmod/chown take a mode or owner first.
		if (c.Name == "chmod" || c.Name == "chown") && i == firstOperand(c.Args) {
			continue
		}
		if c.Name == "dd" {
			if v, ok := strings.CutPrefix(arg, "of="); ok {
				paths = append(paths, v)
			}
			continue
		}
		paths = append(paths, arg)
	}
	return paths
}

// IsDestructiveLine parses line and reports whether any command in it is
// destructive. Lines that cannot be parsed count as destructive.
func IsDestructiveLine(line string) bool {
	commands, err := ParseCommands(line)
	if err != nil {
		return true
	}
	for _, c := range commands {
		if c.IsDestructive() {
			return true
		}
	}
	return false
}

func firstOperand(args []string) int {
	for i, a := range args {
		if !strings.HasPrefix(a, "-") {
			return i
		}
	}
	return -1
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func hasFlagPrefix(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

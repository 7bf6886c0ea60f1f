package ansible

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// TruncateInvalidTail drops the last non-blank line of a prediction that is
// not valid YAML when doing so makes it valid. Models often stop mid-line.
// When the prediction cannot be repaired it is returned unchanged together
// with the original parse error.
func TruncateInvalidTail(prediction string) (string, error) {
	err := validYAML(prediction)
	if err == nil {
		return prediction, nil
	}
	lines := strings.Split(strings.TrimRight(prediction, "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 1 {
		candidate := strings.Join(lines[:len(lines)-1], "\n") + "\n"
		if validYAML(candidate) == nil {
			return candidate, nil
		}
	}
	return prediction, err
}

func validYAML(text string) error {
	var n yaml.Node
	return yaml.Unmarshal([]byte(text), &n)
}

// AdjustIndentation re-renders a prediction with the canonical two-space
// indentation. Text that is not a YAML collection is returned unchanged.
func AdjustIndentation(text string) string {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil || len(doc.Content) == 0 {
		return text
	}
	if k := doc.Content[0].Kind; k != yaml.MappingNode && k != yaml.SequenceNode {
		return text
	}
	out, err := render(&doc, false)
	if err != nil {
		return text
	}
	return out
}

// RestoreIndentation shifts every line so the first line starts at column indent.
func RestoreIndentation(text string, indent int) string {
	if text == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	first := lines[0]
	current := len(first) - len(strings.TrimLeft(first, " "))
	switch {
	case current < indent:
		pad := strings.Repeat(" ", indent-current)
		for i, l := range lines {
			if l != "" {
				lines[i] = pad + l
			}
		}
	case current > indent:
		extra := current - indent
		for i, l := range lines {
			lines[i] = l[min(extra, len(l)-len(strings.TrimLeft(l, " "))):]
		}
	}
	return strings.Join(lines, "\n")
}

var whitespaceLine = regexp.MustCompile(`(?m)^[ \t]+$`)

// SanitizeWhitespace blanks lines that contain only whitespace.
func SanitizeWhitespace(text string) string {
	return whitespaceLine.ReplaceAllString(text, "")
}

// EnsureTrailingNewline makes text end with exactly one newline.
func EnsureTrailingNewline(text string) string {
	return strings.TrimRight(text, "\n") + "\n"
}

var taskNameLine = regexp.MustCompile(`(?m)^([ \t]*- name:[ \t]+)(.*)$`)

// RestoreTaskNames puts the prompt's task descriptions back in place of the
// names the model generated, in order. Only multi-task prompts are affected.
func RestoreTaskNames(text, prompt string) string {
	if !IsMultiTask(prompt) {
		return text
	}
	names := TaskNames(prompt)
	i := 0
	return taskNameLine.ReplaceAllStringFunc(text, func(line string) string {
		defer func() { i++ }()
		if i >= len(names) {
			return line
		}
		m := taskNameLine.FindStringSubmatch(line)
		return m[1] + names[i]
	})
}

// SeparateTasks puts one blank line between consecutive tasks.
func SeparateTasks(text string) string {
	lines := strings.Split(text, "\n")
	base := -1
	out := make([]string, 0, len(lines)+4)
	for _, l := range lines {
		trimmed := strings.TrimLeft(l, " ")
		if strings.HasPrefix(trimmed, "- name:") {
			indent := len(l) - len(trimmed)
			if base < 0 {
				base = indent
			} else if indent == base && len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// Format shapes a raw (possibly anonymized) prediction for the editor:
// canonical indentation shifted to the prompt's column, blank lines instead
// of whitespace-only ones, a single trailing newline, and for multi-task
// prompts the original task names with a blank line between tasks.
func Format(prediction, prompt string, indent int) string {
	out := AdjustIndentation(prediction)
	out = RestoreIndentation(out, indent)
	out = SanitizeWhitespace(out)
	out = EnsureTrailingNewline(out)
	if IsMultiTask(prompt) {
		out = RestoreTaskNames(out, prompt)
		out = SeparateTasks(out)
	}
	return out
}

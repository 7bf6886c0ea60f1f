// Package ansible holds the YAML handling around completion requests:
// splitting the editor text into context and prompt, validating and
// normalizing prompts, merging additional context, and shaping predictions
// back into the caller's indentation.
package ansible

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// PromptType classifies a completion prompt.
type PromptType string

const (
	SingleTask PromptType = "SINGLETASK"
	MultiTask  PromptType = "MULTITASK"
)

// DefaultMultiTaskMaxRequests bounds the number of tasks in one multi-task prompt.
const DefaultMultiTaskMaxRequests = 10

// PromptError describes a prompt the gateway cannot send to a model.
type PromptError struct {
	Msg string
}

func (e *PromptError) Error() string { return e.Msg }

func promptErrorf(format string, args ...any) *PromptError {
	return &PromptError{Msg: fmt.Sprintf(format, args...)}
}

// SplitPrompt separates the editor text into the context (every line
// before the cursor line) and the prompt (the cursor line). Both keep a
// trailing newline when non-empty.
func SplitPrompt(text string) (context, prompt string) {
	body := strings.TrimSuffix(text, "\n")
	i := strings.LastIndex(body, "\n")
	if i < 0 {
		return "", body + "\n"
	}
	return body[:i+1], body[i+1:] + "\n"
}

// Classify reports whether prompt asks for several tasks. A multi-task
// prompt is a comment line listing the task descriptions.
func Classify(prompt string) PromptType {
	if IsMultiTask(prompt) {
		return MultiTask
	}
	return SingleTask
}

// IsMultiTask reports whether the last line of prompt is a comment.
func IsMultiTask(prompt string) bool {
	body := strings.TrimRight(prompt, "\n")
	if i := strings.LastIndex(body, "\n"); i >= 0 {
		body = body[i+1:]
	}
	return strings.HasPrefix(strings.TrimSpace(body), "#")
}

// TaskNames returns the task descriptions a prompt asks for.
func TaskNames(prompt string) []string {
	if IsMultiTask(prompt) {
		_, list, _ := strings.Cut(prompt, "#")
		var names []string
		for _, t := range strings.Split(list, "&") {
			if t = strings.TrimSpace(t); t != "" {
				names = append(names, t)
			}
		}
		return names
	}
	i := strings.LastIndex(prompt, "name:")
	if i < 0 {
		return nil
	}
	return []string{unquote(strings.TrimSpace(prompt[i+len("name:"):]))}
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// OriginalIndent is the column the prediction must start at: the column of
// "name" in a single-task prompt, or of "#" in a multi-task prompt.
func OriginalIndent(prompt string) int {
	if IsMultiTask(prompt) {
		return max(strings.Index(prompt, "#"), 0)
	}
	return max(strings.Index(prompt, "name"), 0)
}

// ValidateSingleTask checks that prompt is one list item holding a single
// scalar "name" key.
func ValidateSingleTask(prompt string) error {
	var doc any
	if err := yaml.Unmarshal([]byte(prompt), &doc); err != nil {
		return promptErrorf("failed to parse the prompt as YAML: %v", err)
	}
	items, ok := doc.([]any)
	if !ok || len(items) != 1 {
		return promptErrorf("prompt must be a single task list item")
	}
	task, ok := items[0].(map[string]any)
	if !ok {
		return promptErrorf("prompt does not contain the name parameter")
	}
	name, ok := task["name"]
	if !ok {
		return promptErrorf("prompt does not contain the name parameter")
	}
	if len(task) != 1 {
		return promptErrorf("prompt contains parameters other than name")
	}
	switch name.(type) {
	case string, int, float64, bool:
		return nil
	default:
		return promptErrorf("the name parameter must be a string")
	}
}

// ValidateMultiTaskShape enforces the request-level rules on multi-task
// prompts: no empty tasks and at most maxTasks tasks.
func ValidateMultiTaskShape(prompt string, maxTasks int) error {
	if strings.Contains(prompt, "&&") {
		return promptErrorf("multi-task prompts must not contain '&&'")
	}
	if maxTasks <= 0 {
		maxTasks = DefaultMultiTaskMaxRequests
	}
	if n := len(TaskNames(prompt)); n > maxTasks {
		return promptErrorf("multi-task prompts are limited to %d tasks, got %d", maxTasks, n)
	}
	return nil
}

var colonSpace = regexp.MustCompile(`:(\s|$)`)

// ValidateTaskFragments checks that each task of a multi-task prompt can be
// used as a task name.
func ValidateTaskFragments(prompt string) error {
	line := strings.TrimRight(prompt, "\n")
	start := strings.Index(line, "#") + 1
	for _, frag := range strings.Split(line[start:], "&") {
		offset := start
		start += len(frag) + 1
		lead := len(frag) - len(strings.TrimLeft(frag, " \t"))
		task := strings.TrimSpace(frag)
		if task == "" {
			continue
		}
		col := offset + lead + 1
		if strings.HasPrefix(task, "-") {
			return promptErrorf("task %q starts with a hyphen at column %d; remove it", task, col)
		}
		if loc := colonSpace.FindStringIndex(task); loc != nil {
			return promptErrorf("task %q contains a colon at column %d; remove it or rephrase the task", task, col+loc[0])
		}
		var doc any
		if err := yaml.Unmarshal([]byte("- name: "+task), &doc); err != nil {
			return promptErrorf("task %q is not valid as a task name: %v", task, err)
		}
	}
	return nil
}

// NormalizeTaskList collapses whitespace in a multi-task comment so tasks
// are separated by " & ".
func NormalizeTaskList(prompt string) string {
	i := strings.Index(prompt, "#")
	if i < 0 {
		return prompt
	}
	names := TaskNames(prompt)
	for j, n := range names {
		names[j] = strings.Join(strings.Fields(n), " ")
	}
	out := prompt[:i] + "# " + strings.Join(names, " & ")
	if strings.HasSuffix(prompt, "\n") {
		out += "\n"
	}
	return out
}

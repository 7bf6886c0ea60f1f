package ansible

import (
	"regexp"
	"strings"
)

// Task describes one generated task for telemetry.
type Task struct {
	Name       string
	Prediction string
	Module     string
	Collection string
}

var moduleKey = regexp.MustCompile(`^[ \t]*(?:- )?([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*):(?:\s|$)`)

// taskKeywords are task-level keys that are never the module.
var taskKeywords = map[string]bool{
	"name": true, "when": true, "become": true, "become_user": true, "become_method": true,
	"register": true, "loop": true, "loop_control": true, "with_items": true, "with_dict": true,
	"tags": true, "vars": true, "notify": true, "ignore_errors": true, "changed_when": true,
	"failed_when": true, "delegate_to": true, "run_once": true, "no_log": true, "environment": true,
	"args": true, "until": true, "retries": true, "delay": true, "check_mode": true,
	"diff": true, "timeout": true, "any_errors_fatal": true, "throttle": true, "block": true,
	"rescue": true, "always": true, "connection": true, "module_defaults": true,
}

// ExtractTasks splits a formatted prediction into one entry per task the
// prompt asked for. Missing blocks leave the prediction empty.
func ExtractTasks(prediction, prompt string) []Task {
	names := TaskNames(prompt)
	var blocks []string
	if IsMultiTask(prompt) {
		blocks = splitTaskBlocks(prediction)
	} else {
		blocks = []string{prediction}
	}
	tasks := make([]Task, len(names))
	for i, name := range names {
		tasks[i].Name = name
		if i < len(blocks) {
			tasks[i].Prediction = blocks[i]
			tasks[i].Module, tasks[i].Collection = ModuleOf(blocks[i])
		}
	}
	return tasks
}

func splitTaskBlocks(text string) []string {
	var blocks []string
	var cur []string
	base := -1
	for _, l := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeft(l, " ")
		indent := len(l) - len(trimmed)
		if strings.HasPrefix(trimmed, "- name:") && (base < 0 || indent == base) {
			base = indent
			if len(cur) > 0 {
				blocks = append(blocks, EnsureTrailingNewline(strings.Join(cur, "\n")))
			}
			cur = nil
		}
		if base >= 0 {
			cur = append(cur, l)
		}
	}
	if len(cur) > 0 {
		blocks = append(blocks, EnsureTrailingNewline(strings.Join(cur, "\n")))
	}
	return blocks
}

// ModuleOf returns the module a task block calls and, for fully qualified
// names, its collection.
func ModuleOf(block string) (module, collection string) {
	keyIndent := -1
	for _, l := range strings.Split(block, "\n") {
		m := moduleKey.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		indent := len(l) - len(strings.TrimLeft(l, " "))
		if strings.HasPrefix(strings.TrimLeft(l, " "), "- ") {
			indent += 2
		}
		if keyIndent < 0 {
			keyIndent = indent
		}
		if indent != keyIndent || taskKeywords[m[1]] {
			continue
		}
		module = m[1]
		if parts := strings.Split(module, "."); len(parts) >= 3 {
			collection = parts[0] + "." + parts[1]
		}
		return module, collection
	}
	return "", ""
}

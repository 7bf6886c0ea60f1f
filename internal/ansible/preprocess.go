package ansible

import (
	"bytes"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileType is the kind of Ansible file the editor is working on.
type FileType string

const (
	FilePlaybook    FileType = "playbook"
	FileTasksInRole FileType = "tasks_in_role"
	FileTasks       FileType = "tasks"
)

// AdditionalContext carries variable files the editor found next to the
// document being edited. File contents are YAML mappings keyed by path.
type AdditionalContext struct {
	PlaybookContext *struct {
		VarInfiles  map[string]string `json:"varInfiles"`
		IncludeVars map[string]string `json:"includeVars"`
	} `json:"playbookContext,omitempty"`
	RoleContext *struct {
		Name     string `json:"name"`
		RoleVars struct {
			Defaults map[string]string `json:"defaults"`
			Vars     map[string]string `json:"vars"`
		} `json:"roleVars"`
		IncludeVars map[string]string `json:"includeVars"`
	} `json:"roleContext,omitempty"`
	StandaloneTaskContext *struct {
		IncludeVars map[string]string `json:"includeVars"`
	} `json:"standaloneTaskContext,omitempty"`
}

const (
	sentinelName = "__ansible_prompt_placeholder__"
	setFactName  = "Set variables from the surrounding project"
)

var playSectionKeys = map[string]bool{
	"pre_tasks": true, "tasks": true, "post_tasks": true, "handlers": true, "roles": true,
}

// NormalizeYAML re-renders text with two-space indentation and indented
// block sequences. An explicit document start marker is kept.
func NormalizeYAML(text string) (string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return "", err
	}
	return render(&doc, strings.HasPrefix(strings.TrimLeft(text, "\n"), "---"))
}

func render(doc *yaml.Node, explicitStart bool) (string, error) {
	if doc.Kind == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	if explicitStart {
		buf.WriteString("---\n")
	}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Preprocess normalizes the context and prompt the way the models were
// trained and merges additional context variables into the document. When
// the document does not parse, context and prompt are returned unchanged.
func Preprocess(context, prompt string, fileType FileType, extra *AdditionalContext) (string, string) {
	multi := IsMultiTask(prompt)
	line := strings.TrimRight(prompt, "\n")
	if multi {
		line = NormalizeTaskList(line)
	}
	indent := len(line) - len(strings.TrimLeft(line, " "))

	// A comment cannot anchor the prompt position after re-rendering, so a
	// placeholder task stands in for it.
	probe := line
	if multi {
		probe = strings.Repeat(" ", indent) + "- name: " + sentinelName
	}
	if context != "" && !strings.HasSuffix(context, "\n") {
		context += "\n"
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(context+probe+"\n"), &doc); err != nil {
		return context, line + "\n"
	}
	if vars := extra.variables(fileType); vars != nil {
		insertVariables(&doc, fileType, vars)
	}
	formatted, err := render(&doc, strings.HasPrefix(strings.TrimLeft(context, "\n"), "---"))
	if err != nil || formatted == "" {
		return context, line + "\n"
	}

	body := strings.TrimSuffix(formatted, "\n")
	newContext, newPrompt := "", body
	if i := strings.LastIndex(body, "\n"); i >= 0 {
		newContext, newPrompt = body[:i+1], body[i+1:]
	}
	if multi {
		col := strings.Index(newPrompt, "-")
		if col < 0 {
			col = indent
		}
		_, tasks, _ := strings.Cut(line, "#")
		newPrompt = strings.Repeat(" ", col) + "#" + tasks
	}
	return newContext, newPrompt + "\n"
}

// variables collects the additional-context variables relevant to fileType
// in a deterministic order.
func (a *AdditionalContext) variables(fileType FileType) *yaml.Node {
	if a == nil {
		return nil
	}
	var sources []map[string]string
	switch fileType {
	case FilePlaybook:
		if a.PlaybookContext != nil {
			sources = append(sources, a.PlaybookContext.VarInfiles, a.PlaybookContext.IncludeVars)
		}
	case FileTasksInRole:
		if a.RoleContext != nil {
			sources = append(sources, a.RoleContext.RoleVars.Defaults, a.RoleContext.RoleVars.Vars, a.RoleContext.IncludeVars)
		}
	case FileTasks:
		if a.StandaloneTaskContext != nil {
			sources = append(sources, a.StandaloneTaskContext.IncludeVars)
		}
	}

	merged := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	seen := make(map[string]int)
	for _, files := range sources {
		paths := make([]string, 0, len(files))
		for p := range files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			var doc yaml.Node
			if err := yaml.Unmarshal([]byte(files[p]), &doc); err != nil || len(doc.Content) == 0 {
				continue
			}
			m := doc.Content[0]
			if m.Kind != yaml.MappingNode {
				continue
			}
			for i := 0; i+1 < len(m.Content); i += 2 {
				key, val := m.Content[i], m.Content[i+1]
				// Later files override earlier ones, as Ansible precedence does.
				if at, ok := seen[key.Value]; ok {
					merged.Content[at+1] = val
					continue
				}
				seen[key.Value] = len(merged.Content)
				merged.Content = append(merged.Content, key, val)
			}
		}
	}
	if len(merged.Content) == 0 {
		return nil
	}
	return merged
}

func insertVariables(doc *yaml.Node, fileType FileType, vars *yaml.Node) {
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.SequenceNode {
		return
	}
	root := doc.Content[0]
	if fileType == FilePlaybook {
		for i := len(root.Content) - 1; i >= 0; i-- {
			if play := root.Content[i]; play.Kind == yaml.MappingNode {
				mergePlayVars(play, vars)
				return
			}
		}
		return
	}
	task := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{
		scalar("name"), scalar(setFactName),
		scalar("ansible.builtin.set_fact"), vars,
	}}
	root.Content = append([]*yaml.Node{task}, root.Content...)
}

// mergePlayVars adds vars to the play's vars section, creating one in front
// of the first task or role section when missing.
func mergePlayVars(play, vars *yaml.Node) {
	insertAt := len(play.Content)
	for i := 0; i+1 < len(play.Content); i += 2 {
		key := play.Content[i].Value
		if key == "vars" && play.Content[i+1].Kind == yaml.MappingNode {
			existing := play.Content[i+1]
			have := make(map[string]bool)
			for j := 0; j+1 < len(existing.Content); j += 2 {
				have[existing.Content[j].Value] = true
			}
			for j := 0; j+1 < len(vars.Content); j += 2 {
				if !have[vars.Content[j].Value] {
					existing.Content = append(existing.Content, vars.Content[j], vars.Content[j+1])
				}
			}
			return
		}
		if playSectionKeys[key] && insertAt == len(play.Content) {
			insertAt = i
		}
	}
	section := []*yaml.Node{scalar("vars"), vars}
	play.Content = append(play.Content[:insertAt], append(section, play.Content[insertAt:]...)...)
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

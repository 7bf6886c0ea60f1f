package openaicompat

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
)

// Prompt templates shared by the providers that talk to general purpose
// chat models rather than Ansible-tuned endpoints.
const (
	CompletionSystemPrompt = "You are an Ansible expert. Return a single task that best completes the " +
		"following partial playbook. Return only the task as YAML. Do not return multiple tasks. " +
		"Do not explain your response. Do not include the prompt in your response."

	PlaybookGenerationSystemPrompt = "You are an Ansible expert. Your role is to help Ansible developers " +
		"write playbooks. You answer with an Ansible playbook in a single ```yaml code block."

	PlaybookOutlineInstruction = "Before the playbook, write a numbered list with one line per task, " +
		"describing what the task does."

	RoleGenerationSystemPrompt = "You are an Ansible expert. Your role is to help Ansible developers " +
		"write roles. You answer with the content of the role's tasks/main.yml in a single ```yaml code block."

	ExplanationSystemPrompt = "You're an Ansible expert. You format your output with Markdown. " +
		"You only answer with text paragraphs. Write one paragraph per Ansible task. " +
		"Markdown title starts with the '#' character. Write a title before every paragraph. " +
		"Do not return any YAML or Ansible in the output. " +
		"Give a lot of details regarding the parameters of each Ansible plugin."

	ChatSystemPrompt = "You are Ansible Lightspeed, an AI assistant that helps with Ansible automation. " +
		"Answer questions about Ansible, Ansible Automation Platform and related Red Hat products concisely."
)

// Messages is a system and user prompt pair.
type Messages struct {
	System string
	User   string
}

// CompletionMessages asks for the task that completes prompt.
func CompletionMessages(context, prompt string) Messages {
	return Messages{System: CompletionSystemPrompt, User: context + prompt}
}

// PlaybookGenerationMessages asks for a playbook matching text.
func PlaybookGenerationMessages(p *domain.PlaybookGenerationParameters) Messages {
	system := PlaybookGenerationSystemPrompt
	if p.CustomPrompt != "" {
		system = p.CustomPrompt
	}
	var user strings.Builder
	user.WriteString("Write a playbook that does the following: ")
	user.WriteString(p.Text)
	if p.Outline != "" {
		user.WriteString("\nFollow this outline:\n")
		user.WriteString(p.Outline)
	}
	if p.CreateOutline {
		user.WriteString("\n")
		user.WriteString(PlaybookOutlineInstruction)
	}
	return Messages{System: system, User: user.String()}
}

// RoleGenerationMessages asks for a role's task file.
func RoleGenerationMessages(p *domain.RoleGenerationParameters) Messages {
	user := "Write the tasks of an Ansible role that does the following: " + p.Text
	if p.Outline != "" {
		user += "\nFollow this outline:\n" + p.Outline
	}
	if p.CreateOutline {
		user += "\n" + PlaybookOutlineInstruction
	}
	return Messages{System: RoleGenerationSystemPrompt, User: user}
}

// PlaybookExplanationMessages asks for a markdown explanation of content.
func PlaybookExplanationMessages(p *domain.PlaybookExplanationParameters) Messages {
	system := ExplanationSystemPrompt
	if p.CustomPrompt != "" {
		system = p.CustomPrompt
	}
	return Messages{System: system, User: "Please explain the following Ansible playbook:\n\n" + p.Content}
}

// RoleExplanationMessages asks for a markdown explanation of a role.
func RoleExplanationMessages(p *domain.RoleExplanationParameters) Messages {
	var user strings.Builder
	user.WriteString("Please explain the Ansible role ")
	user.WriteString(p.RoleName)
	if p.FocusOnFile != "" {
		user.WriteString(", focusing on the file ")
		user.WriteString(p.FocusOnFile)
	}
	user.WriteString(".\n")
	for _, f := range p.Files {
		user.WriteString("\n# ")
		user.WriteString(f.Path)
		user.WriteString("\n")
		user.WriteString(f.Content)
	}
	return Messages{System: ExplanationSystemPrompt, User: user.String()}
}

var fencedBlock = regexp.MustCompile("(?s)```(?:ya?ml)?[ \t]*\n(.*?)```")

// UnwrapYAML returns the first fenced code block of answer and the text in
// front of it. Answers without a fence are returned whole.
func UnwrapYAML(answer string) (code, preamble string) {
	loc := fencedBlock.FindStringSubmatchIndex(answer)
	if loc == nil {
		return strings.TrimLeft(strings.TrimRight(answer, " \t\n"), "\n") + "\n", ""
	}
	return answer[loc[2]:loc[3]], strings.TrimSpace(answer[:loc[0]])
}

// UnwrapTask extracts the task body from a completion answer. When the model
// repeats the "- name:" line of the prompt it is dropped and the remaining
// lines are dedented to the task's key column.
func UnwrapTask(answer string) string {
	code, _ := UnwrapYAML(answer)
	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "- name:") {
		lines = lines[1:]
	}
	indent := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeftFunc(l, unicode.IsSpace))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	for i, l := range lines {
		if len(l) >= indent && indent > 0 {
			lines[i] = l[indent:]
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

// RoleName derives a snake_case role name from a description.
func RoleName(text string) string {
	var words []string
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words = append(words, w)
		if len(words) == 4 {
			break
		}
	}
	if len(words) == 0 {
		return "generated_role"
	}
	return strings.Join(words, "_")
}

package ansible

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplitPrompt(t *testing.T) {
	tests := []struct {
		in, context, prompt string
	}{
		{"---\n- hosts: all\n  tasks:\n    - name: Install Apache\n", "---\n- hosts: all\n  tasks:\n", "    - name: Install Apache\n"},
		{"- name: only line", "", "- name: only line\n"},
		{"---\n  - Name: [Setup]", "---\n", "  - Name: [Setup]\n"},
	}
	for _, tt := range tests {
		context, prompt := SplitPrompt(tt.in)
		if context != tt.context || prompt != tt.prompt {
			t.Errorf("SplitPrompt(%q) = %q, %q, want %q, %q", tt.in, context, prompt, tt.context, tt.prompt)
		}
	}
}

func TestClassifyAndTaskNames(t *testing.T) {
	tests := []struct {
		prompt string
		typ    PromptType
		names  []string
		indent int
	}{
		{"    - name: Install Apache\n", SingleTask, []string{"Install Apache"}, 6},
		{"- name: \"Quoted name\"\n", SingleTask, []string{"Quoted name"}, 2},
		{"    # Install Apache & say hello fred@redhat.com\n", MultiTask, []string{"Install Apache", "say hello fred@redhat.com"}, 4},
		{"# one &  & two", MultiTask, []string{"one", "two"}, 0},
	}
	for _, tt := range tests {
		if got := Classify(tt.prompt); got != tt.typ {
			t.Errorf("Classify(%q) = %s, want %s", tt.prompt, got, tt.typ)
		}
		if diff := cmp.Diff(tt.names, TaskNames(tt.prompt)); diff != "" {
			t.Errorf("TaskNames(%q) mismatch (-want +got):\n%s", tt.prompt, diff)
		}
		if got := OriginalIndent(tt.prompt); got != tt.indent {
			t.Errorf("OriginalIndent(%q) = %d, want %d", tt.prompt, got, tt.indent)
		}
	}
}

func TestValidateSingleTask(t *testing.T) {
	tests := []struct {
		prompt  string
		wantErr string
	}{
		{"    - name: Install Apache\n", ""},
		{"- name: 42\n", ""},
		{"  - Name: [Setup]\n", "prompt does not contain the name parameter"},
		{"- name: x\n  become: true\n", "prompt contains parameters other than name"},
		{"- name: [a, b]\n", "the name parameter must be a string"},
		{"name: x\n", "prompt must be a single task list item"},
		{"- name: 'unterminated\n", "failed to parse the prompt as YAML"},
	}
	for _, tt := range tests {
		err := ValidateSingleTask(tt.prompt)
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("ValidateSingleTask(%q) = %v, want nil", tt.prompt, err)
			}
			continue
		}
		var pe *PromptError
		if !errors.As(err, &pe) || !strings.Contains(pe.Msg, tt.wantErr) {
			t.Errorf("ValidateSingleTask(%q) = %v, want %q", tt.prompt, err, tt.wantErr)
		}
	}
}

func TestValidateMultiTask(t *testing.T) {
	if err := ValidateMultiTaskShape("# a && b\n", 10); err == nil {
		t.Error("expected '&&' to be rejected")
	}
	if err := ValidateMultiTaskShape("# a & b & c\n", 2); err == nil {
		t.Error("expected too many tasks to be rejected")
	}
	if err := ValidateMultiTaskShape("# a & b & c\n", 0); err != nil {
		t.Errorf("default limit: %v", err)
	}

	tests := []struct {
		prompt  string
		wantErr string
	}{
		{"  # install nginx & start nginx\n", ""},
		{"  # install nginx & start: nginx\n", "colon at column 26"},
		{"# -install nginx\n", "hyphen at column 3"},
	}
	for _, tt := range tests {
		err := ValidateTaskFragments(tt.prompt)
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("ValidateTaskFragments(%q) = %v", tt.prompt, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("ValidateTaskFragments(%q) = %v, want %q", tt.prompt, err, tt.wantErr)
		}
	}
}

func TestNormalizeTaskList(t *testing.T) {
	got := NormalizeTaskList("    #install   nginx&start nginx \n")
	if want := "    # install nginx & start nginx\n"; got != want {
		t.Errorf("NormalizeTaskList() = %q, want %q", got, want)
	}
}

func TestPreprocess_SingleTask(t *testing.T) {
	context, prompt := Preprocess("---\n- hosts: all\n  tasks:\n", "    - name: Install Apache\n", FilePlaybook, nil)
	if context != "---\n- hosts: all\n  tasks:\n" {
		t.Errorf("context = %q", context)
	}
	if prompt != "    - name: Install Apache\n" {
		t.Errorf("prompt = %q", prompt)
	}
	if err := ValidateSingleTask(prompt); err != nil {
		t.Errorf("preprocessed prompt is invalid: %v", err)
	}
}

func TestPreprocess_MultiTaskKeepsComment(t *testing.T) {
	context, prompt := Preprocess("- hosts: all\n  tasks:\n", "    #install nginx&start nginx\n", FilePlaybook, nil)
	if context != "- hosts: all\n  tasks:\n" {
		t.Errorf("context = %q", context)
	}
	if prompt != "    # install nginx & start nginx\n" {
		t.Errorf("prompt = %q", prompt)
	}
	if got := len(TaskNames(prompt)); got != 2 {
		t.Errorf("task count = %d, want 2", got)
	}
}

func TestPreprocess_InvalidContextPassesThrough(t *testing.T) {
	context, prompt := Preprocess("- hosts: all\n  tasks: [\n", "    - name: x\n", FilePlaybook, nil)
	if context != "- hosts: all\n  tasks: [\n" || prompt != "    - name: x\n" {
		t.Errorf("Preprocess() = %q, %q", context, prompt)
	}
}

func TestPreprocess_PlaybookAdditionalContext(t *testing.T) {
	extra := &AdditionalContext{}
	extra.PlaybookContext = &struct {
		VarInfiles  map[string]string `json:"varInfiles"`
		IncludeVars map[string]string `json:"includeVars"`
	}{
		VarInfiles: map[string]string{"vars.yml": "http_port: 80\n"},
	}
	context, prompt := Preprocess("- hosts: all\n  tasks:\n", "    - name: Open port\n", FilePlaybook, extra)
	if !strings.Contains(context, "vars:\n    http_port: 80\n  tasks:\n") {
		t.Errorf("vars not inserted before tasks:\n%s", context)
	}
	if prompt != "    - name: Open port\n" {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestPreprocess_TasksAdditionalContext(t *testing.T) {
	extra := &AdditionalContext{}
	extra.StandaloneTaskContext = &struct {
		IncludeVars map[string]string `json:"includeVars"`
	}{IncludeVars: map[string]string{"a.yml": "pkg: httpd\n"}}

	context, _ := Preprocess("- name: Start\n  ansible.builtin.debug:\n    msg: hi\n", "- name: Install\n", FileTasks, extra)
	if !strings.HasPrefix(context, "- name: "+setFactName+"\n  ansible.builtin.set_fact:\n    pkg: httpd\n") {
		t.Errorf("set_fact task not prepended:\n%s", context)
	}
}

func TestTruncateInvalidTail(t *testing.T) {
	got, err := TruncateInvalidTail("ansible.builtin.apt:\n  name: apache2\n  state: \"pres")
	if err != nil {
		t.Fatal(err)
	}
	if got != "ansible.builtin.apt:\n  name: apache2\n" {
		t.Errorf("TruncateInvalidTail() = %q", got)
	}

	bad := "a: [\nb: ]\n"
	got, err = TruncateInvalidTail(bad)
	if err == nil || got != bad {
		t.Errorf("TruncateInvalidTail(%q) = %q, %v; want unchanged with error", bad, got, err)
	}
}

func TestFormat_SingleTask(t *testing.T) {
	prompt := "    - name: Install Apache\n"
	got := Format("      ansible.builtin.apt:\n        name: apache2", prompt, OriginalIndent(prompt))
	if want := "      ansible.builtin.apt:\n        name: apache2\n"; got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}

func TestFormat_MultiTask(t *testing.T) {
	prompt := "    # Install Apache & say hello fred@redhat.com\n"
	prediction := "- name: install apache\n  ansible.builtin.apt:\n    name: apache2\n" +
		"- name: say hello test@example.com\n  ansible.builtin.debug:\n    msg: Hello there test@example.com\n"

	got := Format(prediction, prompt, OriginalIndent(prompt))
	want := "    - name: Install Apache\n      ansible.builtin.apt:\n        name: apache2\n\n" +
		"    - name: say hello fred@redhat.com\n      ansible.builtin.debug:\n        msg: Hello there test@example.com\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Format() mismatch (-want +got):\n%s", diff)
	}

	tasks := ExtractTasks(got, prompt)
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	if tasks[1].Module != "ansible.builtin.debug" || tasks[1].Collection != "ansible.builtin" {
		t.Errorf("task[1] = %+v", tasks[1])
	}
}

func TestFormat_Properties(t *testing.T) {
	cases := []struct {
		prompt, prediction string
	}{
		{"- name: ping\n", "ansible.builtin.ping:\n"},
		{"    - name: Install\n", "ansible.builtin.package:\n    name: x\n    \n    state: present"},
		{"        - name: Install\n", "          ansible.builtin.package:\n            name: x\n"},
		{"  # a & b & c\n", "- name: a\n  ansible.builtin.ping:\n- name: b\n  ansible.builtin.ping:\n- name: c\n  ansible.builtin.ping:\n"},
	}
	for _, c := range cases {
		indent := OriginalIndent(c.prompt)
		once := Format(c.prediction, c.prompt, indent)

		if !strings.HasSuffix(once, "\n") || strings.HasSuffix(once, "\n\n") {
			t.Errorf("Format(%q) = %q: want exactly one trailing newline", c.prediction, once)
		}
		if strings.Contains(once, "\n    \n") || strings.Contains(once, "\n   \n") {
			t.Errorf("Format(%q) = %q: whitespace-only line", c.prediction, once)
		}
		if col := len(once) - len(strings.TrimLeft(once, " ")); col != indent {
			t.Errorf("Format(%q) starts at column %d, want %d", c.prediction, col, indent)
		}
		if twice := Format(once, c.prompt, indent); twice != once {
			t.Errorf("Format is not idempotent:\n once: %q\ntwice: %q", once, twice)
		}
		if got := len(ExtractTasks(once, c.prompt)); got != len(TaskNames(c.prompt)) {
			t.Errorf("ExtractTasks() = %d tasks, want %d", got, len(TaskNames(c.prompt)))
		}
	}
}

func TestModuleOf(t *testing.T) {
	tests := []struct {
		block, module, collection string
	}{
		{"ansible.builtin.apt:\n  name: x\n", "ansible.builtin.apt", "ansible.builtin"},
		{"- name: x\n  become: true\n  community.general.ufw:\n", "community.general.ufw", "community.general"},
		{"  when: x\n  apt:\n    name: y\n", "apt", ""},
		{"just text", "", ""},
	}
	for _, tt := range tests {
		module, collection := ModuleOf(tt.block)
		if module != tt.module || collection != tt.collection {
			t.Errorf("ModuleOf(%q) = %q, %q, want %q, %q", tt.block, module, collection, tt.module, tt.collection)
		}
	}
}

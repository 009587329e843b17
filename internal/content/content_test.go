package content

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		input string
		ok    bool
	}{
		{"empty array", `[]`, true},
		{"null", `null`, false},
		{"object", `{"type":"p"}`, false},
		{"string", `"hello"`, false},
		{"paragraph", `[{"type":"p","children":[{"text":"hi","bold":true}]}]`, true},
		{"empty text allowed", `[{"type":"p","children":[{"text":""}]}]`, true},
		{"paragraph without children", `[{"type":"p","children":[]}]`, false},
		{"text at top level", `[{"text":"hi"}]`, false},
		{"text with extra field", `[{"type":"p","children":[{"text":"hi","color":"red"}]}]`, false},
		{"mention", `[{"type":"p","children":[{"type":"mention","user":{"id":"u1"},"children":[{"text":"@Ann"}]}]}]`, true},
		{"mention missing at", `[{"type":"mention","user":{"id":"u1"},"children":[{"text":"Ann"}]}]`, false},
		{"mention bare at", `[{"type":"mention","user":{"id":"u1"},"children":[{"text":"@"}]}]`, false},
		{"mention two children", `[{"type":"mention","user":{"id":"u1"},"children":[{"text":"@A"},{"text":"@B"}]}]`, false},
		{"mention full user", `[{"type":"mention","user":{"id":"u1","name":"Ann"},"children":[{"text":"@Ann"}]}]`, false},
		{"assignee", `[{"type":"assignee","user":{"id":"u1"},"children":[{"text":"+Ann"}]}]`, true},
		{"assignee with class", `[{"type":"assignee","class":"x","user":{"id":"u1"},"children":[{"text":"+Ann"}]}]`, false},
		{"bullet indent", `[{"type":"bullet","indent":3,"children":[{"type":"p","children":[{"text":"a"}]}]}]`, true},
		{"bullet indent too deep", `[{"type":"bullet","indent":4,"children":[{"type":"p","children":[{"text":"a"}]}]}]`, false},
		{"bullet fractional indent", `[{"type":"bullet","indent":1.5,"children":[{"type":"p","children":[{"text":"a"}]}]}]`, false},
		{"number bullet", `[{"type":"number_bullet","bulletNumber":2,"children":[{"type":"p","children":[{"text":"a"}]}]}]`, true},
		{"bullet text child", `[{"type":"bullet","children":[{"text":"a"}]}]`, false},
		{"quote mixed", `[{"type":"quote","children":[{"text":"a"},{"type":"bullet","children":[{"type":"p","children":[{"text":"b"}]}]}]}]`, true},
		{"code", `[{"type":"code","children":[{"text":"x := 1"}]}]`, true},
		{"code with link", `[{"type":"code","children":[{"type":"link","url":"u","children":[]}]}]`, false},
		{"link", `[{"type":"link","url":"https://example.com","children":[{"text":"site"}]}]`, true},
		{"link without url", `[{"type":"link","children":[]}]`, false},
		{"annotation legacy", `[{"annotation":{"id":"a1"},"children":[{"text":"x"}]}]`, true},
		{"markdown", `[{"type":"markdown","children":[{"text":"**hi**"}]}]`, true},
		{"experimental", `[{"type":"poll","options":["a","b"]}]`, true},
		{"todo", `[{"type":"todo","todoID":"t1","done":false,"children":[]}]`, true},
		{"todo missing id", `[{"type":"todo","done":false}]`, false},
		{"uppercase type", `[{"type":"Poll"}]`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(json.RawMessage(tc.input))
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidContent) {
				t.Fatalf("expected ErrInvalidContent, got %v", err)
			}
		})
	}
}

const sample = `[
	{"type":"p","children":[{"text":"Hey "},{"type":"mention","user":{"id":"bob"},"children":[{"text":"@Bob"}]},{"text":" look"}]},
	{"type":"bullet","children":[{"type":"p","children":[{"type":"assignee","user":{"id":"carol"},"children":[{"text":"+Carol"}]},{"text":" fix it"}]}]},
	{"type":"p","children":[{"type":"mention","user":{"id":"bob"},"children":[{"text":"@Bob"}]}]}
]`

func TestPlainText(t *testing.T) {
	got := PlainText(json.RawMessage(sample))
	want := "Hey @Bob look\n+Carol fix it\n@Bob"
	if got != want {
		t.Fatalf("PlainText() = %q, want %q", got, want)
	}
}

func TestMentionsAndAssignees(t *testing.T) {
	if got := Mentions(json.RawMessage(sample)); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("Mentions() = %v", got)
	}
	if got := Assignees(json.RawMessage(sample)); !reflect.DeepEqual(got, []string{"carol"}) {
		t.Fatalf("Assignees() = %v", got)
	}
}

func TestFromTextProducesValidContent(t *testing.T) {
	raw := FromText("first line\nsecond line")
	if err := Validate(raw); err != nil {
		t.Fatalf("FromText() produced invalid content: %v", err)
	}
	if got := PlainText(raw); got != "first line\nsecond line" {
		t.Fatalf("PlainText(FromText()) = %q", got)
	}
}

package provider

import (
	"strings"
	"testing"

	"github.com/mediascribe/mediascribe/internal/core"
)

func TestRegistry_ListsBuiltins(t *testing.T) {
	reg := NewRegistry()
	names := reg.List()

	want := []string{"llamafile", "ollama", "openai"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestRegistry_Profiles(t *testing.T) {
	reg := NewRegistry()

	openai, err := reg.Profile("openai")
	if err != nil {
		t.Fatal(err)
	}
	if !openai.RequiresCredential {
		t.Error("openai profile must require a credential")
	}
	if openai.Ceiling != 5*1024*1024 {
		t.Errorf("openai ceiling = %d, want 5 MB", openai.Ceiling)
	}

	ollama, err := reg.Profile("ollama")
	if err != nil {
		t.Fatal(err)
	}
	if ollama.RequiresCredential {
		t.Error("ollama profile must not require a credential")
	}
	if ollama.Ceiling <= openai.Ceiling {
		t.Error("local providers should allow larger payloads than cloud ones")
	}

	llamafile, err := reg.Profile("llamafile")
	if err != nil {
		t.Fatal(err)
	}
	if llamafile.Kind != core.KindLocalProcess {
		t.Errorf("llamafile kind = %s, want local-process", llamafile.Kind)
	}
	if llamafile.Concurrency != 1 {
		t.Errorf("local process backend must be serialized, got concurrency %d", llamafile.Concurrency)
	}
}

func TestRegistry_UnknownProviderSuggests(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Profile("olama")
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !core.IsSetup(err) {
		t.Errorf("unknown provider must be a setup error, got %v", err)
	}
	if !strings.Contains(err.Error(), "ollama") {
		t.Errorf("expected a near-match suggestion in %q", err.Error())
	}
}

package i18n

import "testing"

func TestResolveHonorsQValues(t *testing.T) {
	b, err := Load("../../locales", "pt-BR", []string{"pt-BR", "en"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := b.Resolve("pt-BR;q=0.8, en;q=0.9")
	if got != "en" {
		t.Fatalf("expected en, got %s", got)
	}
	if got := b.Resolve("pt-PT,pt;q=0.9"); got != "pt-BR" {
		t.Fatalf("expected pt-BR for portuguese variants, got %s", got)
	}
	if got := b.Resolve(""); got != "pt-BR" {
		t.Fatalf("expected fallback for empty header, got %s", got)
	}
}

func TestTranslateFallsBack(t *testing.T) {
	b, err := Load("../../locales", "pt-BR", []string{"pt-BR", "en"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := b.T("pt-BR", "post.loading"); got != "Carregando..." {
		t.Fatalf("unexpected loading label %q", got)
	}
	if got := b.T("xx", "post.loading"); got != "Carregando..." {
		t.Fatalf("expected fallback locale, got %q", got)
	}
	if got := b.T("en", "missing.key"); got != "missing.key" {
		t.Fatalf("expected key echo, got %q", got)
	}
}

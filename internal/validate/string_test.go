package validate

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

func TestString_Lengths(t *testing.T) {
	c := StringConstraints{MinLength: 2, MaxLength: 5, TrimSpace: true}

	if _, err := String("ok", c); err != nil {
		t.Errorf("String(ok) = %v, want nil", err)
	}
	if _, err := String("x", c); !errors.Is(err, ErrStringTooShort) {
		t.Errorf("String(x) = %v, want ErrStringTooShort", err)
	}
	if _, err := String("toolong", c); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("String(toolong) = %v, want ErrStringTooLong", err)
	}
	if _, err := String("   ", c); !errors.Is(err, ErrEmpty) {
		t.Errorf("String(spaces) = %v, want ErrEmpty", err)
	}
}

func TestString_RuneCountNotBytes(t *testing.T) {
	c := StringConstraints{MaxLength: 3}
	if _, err := String("日本語", c); err != nil {
		t.Errorf("three runes rejected: %v", err)
	}
}

func TestString_AllowEmpty(t *testing.T) {
	got, err := String("", StringConstraints{AllowEmpty: true})
	if err != nil || got != "" {
		t.Errorf("String(empty, AllowEmpty) = %q, %v", got, err)
	}
}

func TestString_Pattern(t *testing.T) {
	c := StringConstraints{AllowedPattern: regexp.MustCompile(`^[a-z]+$`)}
	if _, err := String("abc", c); err != nil {
		t.Errorf("String(abc) = %v, want nil", err)
	}
	if _, err := String("abc1", c); !errors.Is(err, ErrInvalidCharacters) {
		t.Errorf("String(abc1) = %v, want ErrInvalidCharacters", err)
	}
}

func TestString_SQLKeywords(t *testing.T) {
	c := StringConstraints{CheckSQLKeywords: true}
	if _, err := String("DROP TABLE movies", c); !errors.Is(err, ErrSQLKeyword) {
		t.Errorf("expected ErrSQLKeyword, got %v", err)
	}
}

func TestSanitizeHTML(t *testing.T) {
	got := SanitizeHTML(`<script>alert("x")</script>`)
	if strings.Contains(got, "<script>") {
		t.Errorf("SanitizeHTML left raw tags: %q", got)
	}
}

func TestMovieTitle(t *testing.T) {
	if _, err := MovieTitle("  The Fork  "); err != nil {
		t.Errorf("MovieTitle(valid) = %v, want nil", err)
	}
	if _, err := MovieTitle(""); !errors.Is(err, ErrEmpty) {
		t.Errorf("MovieTitle(empty) = %v, want ErrEmpty", err)
	}
	if _, err := MovieTitle(strings.Repeat("a", 201)); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("MovieTitle(201 chars) = %v, want ErrStringTooLong", err)
	}

	got, err := MovieTitle("  Branching Paths  ")
	if err != nil {
		t.Fatalf("MovieTitle failed: %v", err)
	}
	if got != "Branching Paths" {
		t.Errorf("MovieTitle = %q, want trimmed title", got)
	}
}

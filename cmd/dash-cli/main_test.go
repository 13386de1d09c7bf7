package main

import (
	"flag"
	"io"
	"testing"
)

func TestParseAllowsFlagsAfterPositionals(t *testing.T) {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	period := fs.String("period", "30d", "")
	export := fs.Bool("export", false, "")

	pos, err := parse(fs, []string{"bitcoin", "-period", "7d", "-export"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(pos) != 1 || pos[0] != "bitcoin" {
		t.Fatalf("positionals = %v, want [bitcoin]", pos)
	}
	if *period != "7d" || !*export {
		t.Fatalf("period=%q export=%v", *period, *export)
	}
}

func TestParseCollectsSeveralPositionals(t *testing.T) {
	fs := flag.NewFlagSet("dashboards create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	typ := fs.String("type", "price", "")

	pos, err := parse(fs, []string{"My", "-type", "prediction", "board"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(pos) != 2 || pos[0] != "My" || pos[1] != "board" {
		t.Fatalf("positionals = %v", pos)
	}
	if *typ != "prediction" {
		t.Fatalf("type = %q", *typ)
	}
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := parse(fs, []string{"-nope"}); err == nil {
		t.Fatal("expected an error for an unknown flag")
	}
}

package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/lsm/rolewatch/internal/dataset"
)

func testDataset() *dataset.Dataset {
	return dataset.New([]dataset.MemberRecord{
		{UserPrincipalName: "b@x.com", DisplayName: "B", Roles: "Owner", JobTitle: "Eng", ID: "2"},
		{UserPrincipalName: "b@x.com", DisplayName: "B", Roles: "Reader", JobTitle: "Eng", ID: "2"},
		{UserPrincipalName: "a@x.com", DisplayName: "A <admin>", Roles: "Owner", ID: "1"},
	})
}

func TestHTML_Sections(t *testing.T) {
	generated := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	out, err := HTML("AAD Roles", generated, testDataset())
	if err != nil {
		t.Fatalf("html: %v", err)
	}

	for _, want := range []string{
		"<!doctype html>",
		"<title>AAD Roles</title>",
		"Generated 2024-03-01 06:00:00 UTC",
		`<section id="overview">`,
		"<dt>Records</dt><dd>3</dd>",
		"<dt>Distinct users</dt><dd>2</dd>",
		"<dt>Distinct roles</dt><dd>2</dd>",
		"<dt>Users with more than one role</dt><dd>1</dd>",
		"<tr><td>Owner</td><td>2</td></tr>",
		"<tr><td>jobTitle</td><td>1</td></tr>",
		"<th>userPrincipalName</th>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestHTML_EscapesValues(t *testing.T) {
	out, err := HTML("<t>", time.Now(), testDataset())
	if err != nil {
		t.Fatalf("html: %v", err)
	}
	if strings.Contains(out, "<admin>") || strings.Contains(out, "<t>") {
		t.Error("record values must be escaped")
	}
	if !strings.Contains(out, "A &lt;admin&gt;") {
		t.Error("escaped display name not found")
	}
}

func TestHTML_EmptyDataset(t *testing.T) {
	out, err := HTML("AAD Roles", time.Now(), dataset.New(nil))
	if err != nil {
		t.Fatalf("html: %v", err)
	}
	if !strings.Contains(out, "<dt>Records</dt><dd>0</dd>") {
		t.Error("empty dataset should still render the overview")
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, testDataset()); err != nil {
		t.Fatalf("summary: %v", err)
	}
	out := buf.String()
	// Header case depends on the table's auto-format setting.
	for _, want := range []string{"ROLE", "MEMBERS", "TOTAL"} {
		if !strings.Contains(strings.ToUpper(out), want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	for _, want := range []string{"Owner", "Reader", "3"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Owner") > strings.Index(out, "Reader") {
		t.Error("roles should be ordered by count")
	}
}

func TestWriteSummary_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, dataset.New(nil)); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(buf.String(), "No role members found.") {
		t.Errorf("output = %q", buf.String())
	}
}

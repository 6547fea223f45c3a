package policy

import (
	"reflect"
	"strings"
	"testing"

	"github.com/vendora-assistant-go/internal/models"
	"github.com/vendora-assistant-go/internal/services/tools"
)

var registry = []tools.Definition{
	{Name: "create_order"},
	{Name: "open_booking_form", UINavigation: true},
	{Name: "get_schedule"},
}

func names(defs []tools.Definition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.Name)
	}
	return out
}

func TestWebGetsFullRegistry(t *testing.T) {
	p := ForChannel(models.ChannelWeb, registry)
	if len(p.Tools) != len(registry) {
		t.Fatalf("web channel must expose all tools, got %v", names(p.Tools))
	}
}

func TestTelegramExcludesUINavigation(t *testing.T) {
	p := ForChannel(models.ChannelTelegram, registry)
	for _, d := range p.Tools {
		if d.UINavigation {
			t.Fatalf("messaging channel must not expose UI tools, got %v", names(p.Tools))
		}
	}
	if len(p.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %v", names(p.Tools))
	}
	if !strings.Contains(p.PromptFragment, "cannot render interactive forms") {
		t.Fatal("messaging fragment must state the form constraint")
	}
	if !strings.Contains(p.PromptFragment, "personal data") {
		t.Fatal("messaging fragment must forbid surfacing personal data")
	}
}

func TestUnknownChannelIsConstrained(t *testing.T) {
	p := ForChannel(models.Channel("carrier-pigeon"), registry)
	for _, d := range p.Tools {
		if d.UINavigation {
			t.Fatal("unknown channels must get the constrained subset")
		}
	}
}

func TestForChannelIsDeterministic(t *testing.T) {
	a := ForChannel(models.ChannelTelegram, registry)
	b := ForChannel(models.ChannelTelegram, registry)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same channel and registry must produce the same policy")
	}
	// The registry itself is never mutated.
	if len(registry) != 3 {
		t.Fatal("policy lookup must not mutate the registry")
	}
}

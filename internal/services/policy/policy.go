// Package policy maps delivery channels to the tool subset and prompt
// framing they are allowed. Lookups are pure: same channel and registry
// in, same policy out.
package policy

import (
	"github.com/vendora-assistant-go/internal/models"
	"github.com/vendora-assistant-go/internal/services/tools"
)

// Policy is the channel-resolved view of the tool registry.
type Policy struct {
	Tools          []tools.Definition
	PromptFragment string
}

const webFragment = "The user is on the vendor web dashboard. You may open " +
	"interactive forms and navigate the UI when that is the fastest way to help."

const telegramFragment = "The user is on a messaging channel. You cannot render " +
	"interactive forms or navigate any UI; describe steps in plain text instead. " +
	"Never include personal data of clients (phone numbers, addresses, payment " +
	"details) in your replies on this channel."

const apiFragment = "The caller is an API integration. Reply with plain text " +
	"only; you cannot render interactive forms or navigate any UI."

// ForChannel filters the registry for a channel and returns its prompt
// fragment. Unknown channels get the most constrained policy.
func ForChannel(channel models.Channel, registry []tools.Definition) Policy {
	switch channel {
	case models.ChannelWeb:
		return Policy{Tools: registry, PromptFragment: webFragment}
	case models.ChannelTelegram:
		return Policy{Tools: withoutUINavigation(registry), PromptFragment: telegramFragment}
	case models.ChannelAPI:
		return Policy{Tools: withoutUINavigation(registry), PromptFragment: apiFragment}
	}
	return Policy{Tools: withoutUINavigation(registry), PromptFragment: apiFragment}
}

func withoutUINavigation(registry []tools.Definition) []tools.Definition {
	filtered := make([]tools.Definition, 0, len(registry))
	for _, def := range registry {
		if def.UINavigation {
			continue
		}
		filtered = append(filtered, def)
	}
	return filtered
}

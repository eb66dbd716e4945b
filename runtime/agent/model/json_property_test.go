package model

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genPart builds either a TextPart or a ToolUsePart at random: the two most
// common discriminated part shapes, one with no nested value and one with an
// arbitrary JSON object as Input.
func genPart() gopter.Gen {
	return gen.OneGenOf(
		gen.AlphaString().Map(func(s string) Part { return TextPart{Text: s} }),
		gen.Struct(reflect.TypeOf(struct {
			Name  string
			Query string
		}{}), map[string]gopter.Gen{
			"Name":  gen.Identifier(),
			"Query": gen.AlphaString(),
		}).Map(func(v struct {
			Name  string
			Query string
		}) Part {
			return ToolUsePart{Name: v.Name, Input: map[string]any{"query": v.Query}}
		}),
	)
}

// genMessage builds a random Message with 0-3 parts and a role picked by its
// part count.
func genMessage() gopter.Gen {
	roles := []ConversationRole{
		ConversationRoleSystem, ConversationRoleUser, ConversationRoleAssistant, ConversationRoleTool,
	}
	return gen.IntRange(0, 3).FlatMap(func(n any) gopter.Gen {
		count := n.(int)
		return gen.SliceOfN(count, genPart()).Map(func(parts []Part) *Message {
			return &Message{Role: roles[len(parts)%len(roles)], Parts: parts}
		})
	}, reflect.TypeOf(&Message{}))
}

// TestMessageJSONRoundTripProperty verifies that any Message built from
// TextPart/ToolUsePart content survives MarshalJSON followed by
// UnmarshalJSON with its role, part count, and part content unchanged: the
// Kind discriminator must never lose or scramble part identity.
func TestMessageJSONRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("marshal then unmarshal reproduces an equal message", prop.ForAll(
		func(msg *Message) bool {
			raw, err := json.Marshal(msg)
			if err != nil {
				return false
			}
			var got Message
			if err := json.Unmarshal(raw, &got); err != nil {
				return false
			}
			if got.Role != msg.Role {
				return false
			}
			if len(got.Parts) != len(msg.Parts) {
				return false
			}
			for i := range msg.Parts {
				if !reflect.DeepEqual(got.Parts[i], msg.Parts[i]) {
					return false
				}
			}
			return true
		},
		genMessage(),
	))

	properties.TestingRun(t)
}

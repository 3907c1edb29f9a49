package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vaultic/skillbridge/internal/descriptor"
)

// CapabilityCard is the human-readable rendering of a skill's capabilities.
type CapabilityCard struct {
	Identity string   `json:"identity"` // stable, derived from the skill slug
	Name     string   `json:"name"`
	Summary  string   `json:"summary"`
	Examples []string `json:"examples"`
	Install  string   `json:"install"`
}

func buildCard(d *descriptor.SkillDescriptor) *CapabilityCard {
	card := &CapabilityCard{
		Identity: "skill/" + d.Slug,
		Name:     d.Name,
		Summary:  d.Description,
		Install:  fmt.Sprintf("Attach with: POST /api/attachments {\"skill_id\": %q}", d.ID),
	}
	for _, op := range d.Operations {
		card.Examples = append(card.Examples, exampleSnippet(&op))
	}
	return card
}

// exampleSnippet renders a sample invocation for one operation.
func exampleSnippet(op *descriptor.Operation) string {
	keys := make([]string, 0, len(op.Params))
	for k := range op.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var args []string
	for _, k := range keys {
		args = append(args, fmt.Sprintf("%q: %s", k, placeholder(op.Params[k])))
	}
	return fmt.Sprintf("%s({%s})", op.Name, strings.Join(args, ", "))
}

func placeholder(fs *descriptor.FieldSchema) string {
	switch fs.Kind {
	case descriptor.KindString:
		return `"..."`
	case descriptor.KindNumber:
		return "0"
	case descriptor.KindBoolean:
		return "false"
	case descriptor.KindArray:
		return "[...]"
	default:
		return "{...}"
	}
}

// Render formats the card as a markdown document.
func (c *CapabilityCard) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\nIdentity: `%s`\n", c.Name, c.Summary, c.Identity)
	if len(c.Examples) > 0 {
		b.WriteString("\n## Operations\n")
		for _, ex := range c.Examples {
			fmt.Fprintf(&b, "\n    %s\n", ex)
		}
	}
	fmt.Fprintf(&b, "\n## Installation\n\n%s\n", c.Install)
	return b.String()
}

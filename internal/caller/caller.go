// Package caller carries the metadata collected about the person on the line
// before the agent session starts, and folds it into the agent's system
// prompt so the conversation opens with context instead of interrogation.
package caller

import (
	"fmt"
	"strings"
)

// Info is what is known about the caller before the session opens. All fields
// are optional.
type Info struct {
	// Name is how the caller should be addressed.
	Name string `yaml:"name,omitempty"`

	// Reason is the stated purpose of the call.
	Reason string `yaml:"reason,omitempty"`

	// TargetStaff names or identifies the staff member the caller asked for
	// before the session started.
	TargetStaff string `yaml:"target_staff,omitempty"`

	// Language is the caller's preferred language, e.g. "en" or "Spanish".
	Language string `yaml:"language,omitempty"`
}

// Empty reports whether no metadata was collected.
func (i Info) Empty() bool {
	return i.Name == "" && i.Reason == "" && i.TargetStaff == "" && i.Language == ""
}

// BuildPrompt appends the caller context to the base persona prompt. With no
// metadata the base prompt is returned unchanged.
func BuildPrompt(base string, info Info) string {
	if info.Empty() {
		return base
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "\n"))
	b.WriteString("\n\nCaller context:\n")
	if info.Name != "" {
		fmt.Fprintf(&b, "- The caller's name is %s.\n", info.Name)
	}
	if info.Reason != "" {
		fmt.Fprintf(&b, "- They are calling about: %s.\n", info.Reason)
	}
	if info.TargetStaff != "" {
		fmt.Fprintf(&b, "- They wish to speak with %s.\n", info.TargetStaff)
	}
	if info.Language != "" {
		fmt.Fprintf(&b, "- Respond in %s.\n", info.Language)
	}
	return strings.TrimRight(b.String(), "\n")
}

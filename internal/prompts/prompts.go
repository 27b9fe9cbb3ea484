// Package prompts holds the four role instructions the pipeline sends as the
// system instruction of each model call.
package prompts

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role names one of the four pipeline roles.
type Role string

const (
	RoleStrategist  Role = "strategist"
	RoleInitializer Role = "initializer"
	RoleRefiner     Role = "refiner"
	RoleSynthesizer Role = "synthesizer"
)

// Roles lists the roles in pipeline order.
func Roles() []Role {
	return []Role{RoleStrategist, RoleInitializer, RoleRefiner, RoleSynthesizer}
}

// Set is the full collection of role instructions used by one pipeline.
type Set struct {
	Strategist  string `yaml:"strategist"`
	Initializer string `yaml:"initializer"`
	Refiner     string `yaml:"refiner"`
	Synthesizer string `yaml:"synthesizer"`
}

const defaultStrategist = `You are the strategist of a team of four expert agents.
Read the user's request and write a concise execution plan the team will follow.
Identify the core question, the key sub-problems, the facts or constraints that matter,
and the structure a good final answer should have.
Do not answer the request yourself. Output only the plan.`

const defaultInitializer = `You are one of four expert agents working on the same request.
The user's message is followed by an execution plan written by the team strategist.
Follow the plan and write a complete, self-contained answer to the request.
Be accurate and specific. Where the request is ambiguous, state the assumption you make.`

const defaultRefiner = `You are one of four expert agents reviewing the team's first drafts.
You are given your own initial response and the responses of three peers.
Critique your own draft against the peers: keep what is correct, fix mistakes,
fill gaps the peers covered, and drop anything unsupported.
Output only your improved response, not the critique.`

const defaultSynthesizer = `You are the synthesizer of a team of four expert agents.
You are given the user's request, the execution plan and four refined responses.
Merge them into one final answer for the user: resolve disagreements in favour of the
best-supported position, remove repetition, and follow the structure the plan suggests.
Do not mention the agents, the plan or the drafting process. Output only the final answer.`

// Default returns the built-in instructions.
func Default() Set {
	return Set{
		Strategist:  defaultStrategist,
		Initializer: defaultInitializer,
		Refiner:     defaultRefiner,
		Synthesizer: defaultSynthesizer,
	}
}

// Load reads a YAML file and overlays its non-blank entries on Default().
// An empty path returns the defaults.
func Load(path string) (Set, error) {
	set := Default()
	if strings.TrimSpace(path) == "" {
		return set, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("read prompts %s: %w", path, err)
	}
	var override Set
	if err := yaml.Unmarshal(b, &override); err != nil {
		return Set{}, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	set = set.Merge(override)
	if err := set.Validate(); err != nil {
		return Set{}, err
	}
	return set, nil
}

// Merge returns s with every non-blank field of o applied on top.
func (s Set) Merge(o Set) Set {
	pick := func(base, over string) string {
		if strings.TrimSpace(over) != "" {
			return over
		}
		return base
	}
	return Set{
		Strategist:  pick(s.Strategist, o.Strategist),
		Initializer: pick(s.Initializer, o.Initializer),
		Refiner:     pick(s.Refiner, o.Refiner),
		Synthesizer: pick(s.Synthesizer, o.Synthesizer),
	}
}

// Validate reports the first role whose instruction is blank.
func (s Set) Validate() error {
	for _, r := range Roles() {
		if strings.TrimSpace(s.For(r)) == "" {
			return fmt.Errorf("prompt for role %q is empty", r)
		}
	}
	return nil
}

// For returns the instruction for role, or "" for an unknown role.
func (s Set) For(role Role) string {
	switch role {
	case RoleStrategist:
		return s.Strategist
	case RoleInitializer:
		return s.Initializer
	case RoleRefiner:
		return s.Refiner
	case RoleSynthesizer:
		return s.Synthesizer
	default:
		return ""
	}
}

// YAML renders the set in the same format Load accepts.
func (s Set) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

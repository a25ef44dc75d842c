package turnloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/mhalvorsen/turnstile/modelcall"
)

var (
	frontmatterRE = regexp.MustCompile(`(?s)\A---\s*\n(.*?\n)---\s*\n`)
	skillNameRE   = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// Skill is one named capability. Only name and description are ever
// injected into the prompt; the body resolves on demand.
type Skill struct {
	Name        string
	Description string
	Body        func() (string, error)
}

// SkillLoader injects a catalog of skill names and descriptions at
// model-call time and serves full bodies through the skill tool.
// Bodies are resolved lazily and cached.
type SkillLoader struct {
	skills []Skill
	index  map[string]int
	cache  *lru.Cache[string, string]
}

const skillCacheSize = 32

// NewSkillLoader creates a loader over a fixed skill set. Names must be
// unique lowercase-with-hyphens identifiers.
func NewSkillLoader(skills ...Skill) (*SkillLoader, error) {
	cache, err := lru.New[string, string](skillCacheSize)
	if err != nil {
		return nil, err
	}
	l := &SkillLoader{
		skills: skills,
		index:  make(map[string]int, len(skills)),
		cache:  cache,
	}
	for i, s := range skills {
		if !skillNameRE.MatchString(s.Name) {
			return nil, fmt.Errorf("turnloop: invalid skill name %q", s.Name)
		}
		if _, dup := l.index[s.Name]; dup {
			return nil, fmt.Errorf("turnloop: duplicate skill %q", s.Name)
		}
		l.index[s.Name] = i
	}
	return l, nil
}

func (l *SkillLoader) Name() string { return "skill_loader" }

// Skills returns the catalog entries in registration order.
func (l *SkillLoader) Skills() []Skill { return l.skills }

// Catalog renders the name+description listing injected into prompts.
func (l *SkillLoader) Catalog() string {
	var sb strings.Builder
	sb.WriteString("Available skills (use the skill tool to load one):\n")
	for _, s := range l.skills {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Description)
	}
	return sb.String()
}

// WrapModelCall appends the catalog to the system prompt, never the
// bodies.
func (l *SkillLoader) WrapModelCall(ctx context.Context, state *TurnState, req *modelcall.Request, next ModelCallFunc) (*modelcall.Response, error) {
	if len(l.skills) > 0 {
		if req.System != "" {
			req.System += "\n\n"
		}
		req.System += l.Catalog()
	}
	return next(ctx, req)
}

// Lookup returns a skill body, resolving and caching it on first use.
func (l *SkillLoader) Lookup(name string) (string, error) {
	i, ok := l.index[name]
	if !ok {
		return "", fmt.Errorf("unknown skill: %s", name)
	}
	if body, ok := l.cache.Get(name); ok {
		return body, nil
	}
	body, err := l.skills[i].Body()
	if err != nil {
		return "", fmt.Errorf("load skill %s: %w", name, err)
	}
	l.cache.Add(name, body)
	return body, nil
}

// Tools contributes the skill lookup tool.
func (l *SkillLoader) Tools() []Tool {
	return []Tool{{
		Name:        "skill",
		Description: "Load the full instructions of a named skill from the catalog.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string", "description": "Skill name from the catalog."},
			},
			"required": []string{"name"},
		},
		Run: func(_ context.Context, raw json.RawMessage, _ *TurnState) (string, error) {
			args, err := ParseArguments(raw)
			if err != nil {
				return "", err
			}
			name, err := StringArg(args, "name", true)
			if err != nil {
				return "", err
			}
			return l.Lookup(name)
		},
	}}
}

// skillFrontmatter is the recognized header of a skill file.
type skillFrontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ParseSkill reads one markdown skill definition: YAML frontmatter with
// name and description, followed by an opaque markdown body.
func ParseSkill(content string) (Skill, error) {
	match := frontmatterRE.FindStringSubmatch(content)
	if match == nil {
		return Skill{}, fmt.Errorf("turnloop: skill file missing frontmatter")
	}
	var front skillFrontmatter
	if err := yaml.Unmarshal([]byte(match[1]), &front); err != nil {
		return Skill{}, fmt.Errorf("turnloop: parse skill frontmatter: %w", err)
	}
	if front.Name == "" {
		return Skill{}, fmt.Errorf("turnloop: skill frontmatter missing name")
	}
	body := strings.TrimPrefix(content, match[0])
	return Skill{
		Name:        front.Name,
		Description: strings.TrimSpace(front.Description),
		Body:        func() (string, error) { return body, nil },
	}, nil
}

// LoadSkillsDir discovers SKILL.md files under dir. Bodies load lazily
// from disk when first requested.
func LoadSkillsDir(dir string) ([]Skill, error) {
	var skills []Skill
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "SKILL.md" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		match := frontmatterRE.FindStringSubmatch(string(data))
		if match == nil {
			return nil
		}
		var front skillFrontmatter
		if err := yaml.Unmarshal([]byte(match[1]), &front); err != nil {
			return nil
		}
		name := front.Name
		if name == "" {
			// Fall back to the skill's directory name.
			name = filepath.Base(filepath.Dir(path))
		}
		skillPath := path
		skills = append(skills, Skill{
			Name:        name,
			Description: strings.TrimSpace(front.Description),
			Body: func() (string, error) {
				data, err := os.ReadFile(skillPath)
				if err != nil {
					return "", err
				}
				if m := frontmatterRE.FindStringSubmatch(string(data)); m != nil {
					return strings.TrimPrefix(string(data), m[0]), nil
				}
				return string(data), nil
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("turnloop: scan skills dir %s: %w", dir, err)
	}
	return skills, nil
}

var (
	_ ModelCallWrapper = (*SkillLoader)(nil)
	_ ToolProvider     = (*SkillLoader)(nil)
)

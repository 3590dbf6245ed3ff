// Package transform applies organization-scoped rewrites to an extracted
// manifest workspace: registry reference substitution, annotation injection
// on ClusterServiceVersion documents, and package-name discovery.
//
// Registry substitution is deliberately plain text substitution, not a
// structural YAML edit. Some manifest fields hold opaque JSON blobs embedded
// in YAML strings (e.g. alm-examples); a parse-and-re-emit pass would mangle
// their formatting, while text substitution leaves every byte outside the
// matched spans untouched.
package transform

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/manifest-gateway/manifest-gateway/internal/errdefs"
)

// csvKind is the document kind that receives annotation injection.
const csvKind = "ClusterServiceVersion"

// RegistryRule is one registry reference substitution. When Regexp is false
// Old is replaced as a literal substring; when true Old is compiled as a
// regular expression and New may reference capture groups.
type RegistryRule struct {
	Old    string `mapstructure:"old" yaml:"old"`
	New    string `mapstructure:"new" yaml:"new"`
	Regexp bool   `mapstructure:"regexp" yaml:"regexp"`
}

// AnnotationRule sets one metadata annotation on every CSV document. Value is
// a template; {placeholder} references are interpolated from the publish
// context at injection time.
type AnnotationRule struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Value string `mapstructure:"value" yaml:"value"`
}

// yamlFiles returns the .yaml/.yml files under dir in lexicographic path
// order, so rewrites visit files deterministically.
func yamlFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if isYAML(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ReplaceRegistries rewrites registry references in every YAML document under
// dir, applying rules in listed order. Files are rewritten only when their
// content actually changed. A no-op when rules is empty.
func ReplaceRegistries(dir string, rules []RegistryRule) error {
	if len(rules) == 0 {
		return nil
	}

	type compiledRule struct {
		re      *regexp.Regexp
		old     string
		new     string
		literal bool
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Regexp {
			re, err := regexp.Compile(r.Old)
			if err != nil {
				return fmt.Errorf("invalid registry rule pattern %q: %w", r.Old, err)
			}
			compiled = append(compiled, compiledRule{re: re, new: r.New})
		} else {
			compiled = append(compiled, compiledRule{old: r.Old, new: r.New, literal: true})
		}
	}

	files, err := yamlFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		content := string(data)
		rewritten := content
		for _, r := range compiled {
			if r.literal {
				// A rule whose replacement contains its own pattern (old "a" →
				// new "aa") cascades on repeat runs; skip it once the
				// replacement is present. Other rules replace unconditionally.
				if r.old != "" && strings.Contains(r.new, r.old) && strings.Contains(rewritten, r.new) {
					continue
				}
				rewritten = strings.ReplaceAll(rewritten, r.old, r.new)
			} else {
				rewritten = r.re.ReplaceAllString(rewritten, r.new)
			}
		}
		if rewritten == content {
			continue
		}
		if err := os.WriteFile(path, []byte(rewritten), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// InjectAnnotations sets the configured annotations on every document under
// dir whose kind is ClusterServiceVersion. The document is re-emitted through
// an ordered-map, comment-preserving round trip so comments and key order
// outside metadata.annotations survive. A no-op when rules is empty.
func InjectAnnotations(dir string, rules []AnnotationRule, context map[string]string) error {
	if len(rules) == 0 {
		return nil
	}

	rendered := make([]yaml.MapItem, 0, len(rules))
	for _, r := range rules {
		value, err := renderTemplate(r.Value, context)
		if err != nil {
			return err
		}
		rendered = append(rendered, yaml.MapItem{Key: r.Name, Value: value})
	}

	files, err := yamlFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if documentKind(data) != csvKind {
			continue
		}

		cm := yaml.CommentMap{}
		var doc any
		if err := yaml.UnmarshalWithOptions(data, &doc, yaml.UseOrderedMap(), yaml.CommentToMap(cm)); err != nil {
			return errdefs.Wrap(errdefs.KindPackageValidationError, err,
				"cannot parse %s: %v", filepath.Base(path), err)
		}
		root, ok := doc.(yaml.MapSlice)
		if !ok {
			continue
		}

		out, err := yaml.MarshalWithOptions(setAnnotations(root, rendered), yaml.WithComment(cm))
		if err != nil {
			return fmt.Errorf("render %s: %w", path, err)
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// setAnnotations ensures metadata.annotations exists in root and sets every
// rendered rule, overwriting existing keys in place and appending new ones.
func setAnnotations(root yaml.MapSlice, rendered []yaml.MapItem) yaml.MapSlice {
	mi := indexOf(root, "metadata")
	if mi < 0 {
		root = append(root, yaml.MapItem{Key: "metadata", Value: yaml.MapSlice{}})
		mi = len(root) - 1
	}
	meta, _ := root[mi].Value.(yaml.MapSlice)

	ai := indexOf(meta, "annotations")
	if ai < 0 {
		meta = append(meta, yaml.MapItem{Key: "annotations", Value: yaml.MapSlice{}})
		ai = len(meta) - 1
	}
	annotations, _ := meta[ai].Value.(yaml.MapSlice)

	for _, item := range rendered {
		if ki := indexOf(annotations, item.Key.(string)); ki >= 0 {
			annotations[ki].Value = item.Value
		} else {
			annotations = append(annotations, item)
		}
	}

	meta[ai].Value = annotations
	root[mi].Value = meta
	return root
}

func indexOf(ms yaml.MapSlice, key string) int {
	for i, item := range ms {
		if k, ok := item.Key.(string); ok && k == key {
			return i
		}
	}
	return -1
}

// documentKind returns the top-level kind of a YAML document, or "" when the
// document has none or cannot be parsed.
func documentKind(data []byte) string {
	var probe struct {
		Kind string `yaml:"kind"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.Kind
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// renderTemplate substitutes {placeholder} references from context. A
// reference to a key absent from context is an error.
func renderTemplate(template string, context map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		value, ok := context[key]
		if !ok {
			if missing == "" {
				missing = key
			}
			return m
		}
		return value
	})
	if missing != "" {
		return "", errdefs.New(errdefs.KindPackageValidationError,
			"annotation template %q references unknown placeholder {%s}", template, missing)
	}
	return out, nil
}

// DiscoverPackageName scans the YAML documents directly under dir (not
// recursively) for one declaring a packageName and returns the first found.
func DiscoverPackageName(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		var probe struct {
			PackageName string `yaml:"packageName"`
		}
		if err := yaml.Unmarshal(data, &probe); err != nil {
			continue
		}
		if probe.PackageName != "" {
			return probe.PackageName, nil
		}
	}
	return "", errdefs.New(errdefs.KindPackageValidationError,
		"could not find packageName in manifests under %s", dir)
}

// ApplySuffix appends suffix to name unless name already carries it, so
// re-publishing an already suffixed package never double-suffixes.
func ApplySuffix(name, suffix string) string {
	if suffix == "" || strings.HasSuffix(name, suffix) {
		return name
	}
	return name + suffix
}

// RenamePackage rewrites every document under dir declaring packageName
// oldName to declare newName instead, preserving comments and key order.
// A no-op when the names are equal.
func RenamePackage(dir, oldName, newName string) error {
	if oldName == newName {
		return nil
	}

	files, err := yamlFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		var probe struct {
			PackageName string `yaml:"packageName"`
		}
		if err := yaml.Unmarshal(data, &probe); err != nil || probe.PackageName != oldName {
			continue
		}

		cm := yaml.CommentMap{}
		var doc any
		if err := yaml.UnmarshalWithOptions(data, &doc, yaml.UseOrderedMap(), yaml.CommentToMap(cm)); err != nil {
			return errdefs.Wrap(errdefs.KindPackageValidationError, err,
				"cannot parse %s: %v", filepath.Base(path), err)
		}
		root, ok := doc.(yaml.MapSlice)
		if !ok {
			continue
		}
		pi := indexOf(root, "packageName")
		if pi < 0 {
			continue
		}
		root[pi].Value = newName

		out, err := yaml.MarshalWithOptions(root, yaml.WithComment(cm))
		if err != nil {
			return fmt.Errorf("render %s: %w", path, err)
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

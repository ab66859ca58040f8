// Package catalog loads the embedded locale catalogs, checks that every
// translation agrees with the base locale, and registers the messages with
// golang.org/x/text/message.
package catalog

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// BaseLocale is the locale every other catalog is checked against.
const BaseLocale = "en-US"

//go:embed locales/*/*.yaml
var embeddedFS embed.FS

var defaultBundle = mustLoadDefault()

// Default returns the embedded bundle, already registered with x/text.
func Default() *Bundle {
	return defaultBundle
}

// namespaceFile is one parsed locales/<locale>/<namespace>.yaml file.
type namespaceFile struct {
	locale    string
	namespace string
	messages  map[string]string
}

// Bundle holds messages per locale and per namespace.
type Bundle struct {
	// messages is locale → key → text.
	messages map[string]map[string]string
	// namespaces is locale → namespace → keys.
	namespaces map[string]map[string][]string
	tags       []language.Tag
	matcher    language.Matcher
}

// LoadEmbedded loads the catalogs compiled into the binary.
func LoadEmbedded() (*Bundle, error) {
	return LoadFromFS(embeddedFS)
}

// LoadFromFS loads every locales/*/*.yaml file from catalogFS. The base
// locale must be present and every other locale must define exactly the base
// keys with the same placeholders.
func LoadFromFS(catalogFS fs.FS) (*Bundle, error) {
	paths, err := fs.Glob(catalogFS, "locales/*/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	slices.Sort(paths)

	bundle := &Bundle{
		messages:   map[string]map[string]string{},
		namespaces: map[string]map[string][]string{},
	}
	for _, p := range paths {
		data, err := fs.ReadFile(catalogFS, p)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", p, err)
		}
		file, err := parseNamespaceFile(data)
		if err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", p, err)
		}
		if err := bundle.add(p, file); err != nil {
			return nil, err
		}
	}
	if !bundle.HasLocale(BaseLocale) {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}
	if err := bundle.checkTranslations(); err != nil {
		return nil, err
	}
	if err := bundle.buildMatcher(); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (b *Bundle) add(p string, file namespaceFile) error {
	dirLocale := path.Base(path.Dir(p))
	fileNamespace := strings.TrimSuffix(path.Base(p), path.Ext(p))
	switch {
	case file.locale != dirLocale:
		return fmt.Errorf("catalog %s: locale %q must match directory %q", p, file.locale, dirLocale)
	case file.namespace != fileNamespace:
		return fmt.Errorf("catalog %s: namespace %q must match file name %q", p, file.namespace, fileNamespace)
	}

	messages := b.messages[file.locale]
	if messages == nil {
		messages = map[string]string{}
		b.messages[file.locale] = messages
		b.namespaces[file.locale] = map[string][]string{}
	}
	if _, exists := b.namespaces[file.locale][file.namespace]; exists {
		return fmt.Errorf("catalog %s: namespace %q defined twice for %s", p, file.namespace, file.locale)
	}

	keys := make([]string, 0, len(file.messages))
	for key, text := range file.messages {
		if _, exists := messages[key]; exists {
			return fmt.Errorf("catalog %s: duplicate key %q in %s", p, key, file.locale)
		}
		messages[key] = text
		keys = append(keys, key)
	}
	slices.Sort(keys)
	b.namespaces[file.locale][file.namespace] = keys
	return nil
}

// placeholderPattern matches printf verbs and template fields.
var placeholderPattern = regexp.MustCompile(`%%|%[-+# 0]*[0-9]*(?:\.[0-9]+)?[a-zA-Z]|\{\{\s*\.[A-Za-z_][A-Za-z0-9_]*\s*\}\}`)

func placeholders(text string) []string {
	var out []string
	for _, match := range placeholderPattern.FindAllString(text, -1) {
		if match == "%%" {
			continue
		}
		out = append(out, strings.Join(strings.Fields(match), ""))
	}
	// Template fields may be reordered by a translation; printf verbs may not.
	fields := slices.DeleteFunc(slices.Clone(out), func(p string) bool { return !strings.HasPrefix(p, "{{") })
	verbs := slices.DeleteFunc(out, func(p string) bool { return strings.HasPrefix(p, "{{") })
	slices.Sort(fields)
	return append(verbs, fields...)
}

func (b *Bundle) checkTranslations() error {
	base := b.messages[BaseLocale]
	for _, locale := range b.Locales() {
		if locale == BaseLocale {
			continue
		}
		translated := b.messages[locale]
		for key, text := range base {
			other, ok := translated[key]
			if !ok {
				return fmt.Errorf("locale %s is missing key %q", locale, key)
			}
			if !slices.Equal(placeholders(text), placeholders(other)) {
				return fmt.Errorf("locale %s key %q: placeholders %v differ from %s %v",
					locale, key, placeholders(other), BaseLocale, placeholders(text))
			}
		}
		for key := range translated {
			if _, ok := base[key]; !ok {
				return fmt.Errorf("locale %s defines key %q absent from %s", locale, key, BaseLocale)
			}
		}
	}
	return nil
}

func (b *Bundle) buildMatcher() error {
	// The base locale goes first so the matcher falls back to it.
	locales := slices.DeleteFunc(b.Locales(), func(l string) bool { return l == BaseLocale })
	locales = append([]string{BaseLocale}, locales...)
	tags := make([]language.Tag, 0, len(locales))
	for _, locale := range locales {
		tag, err := language.Parse(locale)
		if err != nil {
			return fmt.Errorf("parse locale tag %q: %w", locale, err)
		}
		tags = append(tags, tag)
	}
	b.tags = tags
	b.matcher = language.NewMatcher(tags)
	return nil
}

// Register installs every message into the x/text default catalog under its
// full tag and its bare language ("ru-RU" and "ru").
func (b *Bundle) Register() error {
	if b == nil {
		return nil
	}
	for _, tag := range b.tags {
		targets := []language.Tag{tag}
		if base, confidence := tag.Base(); confidence != language.No {
			if bare := language.Make(base.String()); bare.String() != tag.String() {
				targets = append(targets, bare)
			}
		}
		messages := b.messages[tag.String()]
		for _, key := range sortedKeys(messages) {
			for _, target := range targets {
				if err := message.SetString(target, key, messages[key]); err != nil {
					return fmt.Errorf("register %s/%s: %w", tag, key, err)
				}
			}
		}
	}
	return nil
}

// Match resolves a requested locale ("ru", "ru-RU" or an Accept-Language
// list) to the closest loaded locale, defaulting to BaseLocale.
func (b *Bundle) Match(requested string) string {
	requested = strings.TrimSpace(requested)
	if b == nil || b.matcher == nil || requested == "" {
		return BaseLocale
	}
	if b.HasLocale(requested) {
		return requested
	}
	desired, _, err := language.ParseAcceptLanguage(requested)
	if err != nil || len(desired) == 0 {
		return BaseLocale
	}
	_, index, confidence := b.matcher.Match(desired...)
	if confidence == language.No || index < 0 || index >= len(b.tags) {
		return BaseLocale
	}
	return b.tags[index].String()
}

// Printer returns a printer for the matched locale. Numbers it formats use
// the locale's digit grouping.
func (b *Bundle) Printer(requested string) *message.Printer {
	tag, err := language.Parse(b.Match(requested))
	if err != nil {
		tag = language.AmericanEnglish
	}
	return message.NewPrinter(tag)
}

// HasLocale reports whether locale was loaded.
func (b *Bundle) HasLocale(locale string) bool {
	if b == nil {
		return false
	}
	_, ok := b.messages[strings.TrimSpace(locale)]
	return ok
}

// Locales lists loaded locales in sorted order.
func (b *Bundle) Locales() []string {
	if b == nil {
		return nil
	}
	return sortedKeys(b.messages)
}

// Message returns the text for key in locale, falling back to BaseLocale.
func (b *Bundle) Message(locale, key string) (string, bool) {
	if b == nil {
		return "", false
	}
	if text, ok := b.messages[strings.TrimSpace(locale)][key]; ok {
		return text, true
	}
	text, ok := b.messages[BaseLocale][key]
	return text, ok
}

// Namespace returns a copy of one namespace's messages for the matched
// locale, and the locale that served them.
func (b *Bundle) Namespace(requested, namespace string) (string, map[string]string) {
	locale := b.Match(requested)
	keys, ok := b.namespaces[locale][namespace]
	if !ok {
		locale = BaseLocale
		keys = b.namespaces[locale][namespace]
	}
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		out[key] = b.messages[locale][key]
	}
	return locale, out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func mustLoadDefault() *Bundle {
	bundle, err := LoadEmbedded()
	if err != nil {
		panic(err)
	}
	if err := bundle.Register(); err != nil {
		panic(err)
	}
	return bundle
}

// parseNamespaceFile reads the flat catalog format:
//
//	locale: "en-US"
//	namespace: "errors"
//	messages:
//	  "KEY": "text"
func parseNamespaceFile(data []byte) (namespaceFile, error) {
	file := namespaceFile{messages: map[string]string{}}
	inMessages := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if inMessages {
			key, text, err := parseEntry(line)
			if err != nil {
				return namespaceFile{}, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if _, dup := file.messages[key]; dup {
				return namespaceFile{}, fmt.Errorf("line %d: key %q repeated", lineNo, key)
			}
			file.messages[key] = text
			continue
		}

		name, value, _ := strings.Cut(line, ":")
		value = strings.TrimSpace(value)
		switch name {
		case "messages":
			inMessages = true
		case "locale", "namespace":
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return namespaceFile{}, fmt.Errorf("line %d: %s must be a quoted string", lineNo, name)
			}
			if name == "locale" {
				file.locale = unquoted
			} else {
				file.namespace = unquoted
			}
		default:
			return namespaceFile{}, fmt.Errorf("line %d: unexpected %q", lineNo, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return namespaceFile{}, err
	}

	switch {
	case file.locale == "":
		return namespaceFile{}, fmt.Errorf("missing locale")
	case file.namespace == "":
		return namespaceFile{}, fmt.Errorf("missing namespace")
	case len(file.messages) == 0:
		return namespaceFile{}, fmt.Errorf("missing messages")
	}
	return file, nil
}

// parseEntry splits `"key": "text"` where both sides are Go-quoted strings.
func parseEntry(line string) (string, string, error) {
	quotedKey, err := strconv.QuotedPrefix(line)
	if err != nil {
		return "", "", fmt.Errorf("key must be a quoted string")
	}
	key, _ := strconv.Unquote(quotedKey)
	if strings.TrimSpace(key) == "" {
		return "", "", fmt.Errorf("key is blank")
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(line[len(quotedKey):]), ":")
	if !ok {
		return "", "", fmt.Errorf("missing ':' after key %q", key)
	}
	text, err := strconv.Unquote(strings.TrimSpace(rest))
	if err != nil {
		return "", "", fmt.Errorf("value of %q must be a quoted string", key)
	}
	return key, text, nil
}

package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is read when neither an explicit path nor PathEnvVar is set.
	DefaultPath = "/etc/anitya/anitya.yaml"
	// PathEnvVar names the environment variable overriding DefaultPath.
	PathEnvVar = "ANITYA_WEB_CONFIG"
)

const (
	msgNotAssociative  = "Config file is not an associative array. Falling back to default config."
	msgSecretKeyUnset  = "SECRET_KEY is not configured, falling back to the default. This is NOT safe for production deployments!"
	msgInvalidValueFmt = "Config key %s has an invalid value, falling back to the default."
)

var errNullValue = errors.New("value is null")

const maxLifetimeSeconds = int64(math.MaxInt64 / int64(time.Second))

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPath forces the loader to read path, ignoring PathEnvVar.
func WithPath(path string) LoaderOption {
	return func(l *Loader) {
		l.path = path
	}
}

// Loader resolves and reads the configuration file.
type Loader struct {
	logger *zap.Logger
	path   string

	getenv   func(string) string
	exists   func(string) bool
	readFile func(string) ([]byte, error)
}

// NewLoader builds a Loader reporting through logger. A nil logger discards
// all messages.
func NewLoader(logger *zap.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		logger:   logger,
		getenv:   os.Getenv,
		exists:   fileExists,
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the configuration using the process environment and filesystem.
func Load(logger *zap.Logger, opts ...LoaderOption) Config {
	return NewLoader(logger, opts...).Load()
}

// Path returns the file the loader will read.
func (l *Loader) Path() string {
	if l.path != "" {
		return l.path
	}
	if path := l.getenv(PathEnvVar); path != "" {
		return path
	}
	return DefaultPath
}

// Load returns the defaults overlaid with every recognized key of the
// configuration file. It never fails; problems are logged and the affected
// values fall back to their defaults.
func (l *Loader) Load() Config {
	path := l.Path()
	cfg := Defaults()

	entries := l.readEntries(path)
	for _, f := range fields {
		node, ok := entries[f.key]
		if !ok {
			continue
		}
		if err := f.decode(&cfg, node); err != nil {
			l.logger.Warn(fmt.Sprintf(msgInvalidValueFmt, f.key),
				zap.String("key", f.key),
				zap.Int("line", node.Line),
				zap.Error(err),
			)
		}
	}
	for key := range entries {
		if !knownKey(key) {
			l.logger.Debug("ignoring unknown configuration key", zap.String("key", key))
		}
	}

	if !cfg.SecretKeyConfigured() {
		l.logger.Warn(msgSecretKeyUnset)
	}
	return cfg
}

// readEntries returns the top-level key/value nodes of the file at path, or
// nil whenever the file cannot contribute any values.
func (l *Loader) readEntries(path string) map[string]*yaml.Node {
	if !l.exists(path) {
		l.logger.Info(fmt.Sprintf("The Anitya configuration file, %s, does not exist.", path),
			zap.String("path", path))
		return nil
	}
	l.logger.Info(fmt.Sprintf("Loading Anitya configuration from %s", path),
		zap.String("path", path))

	data, err := l.readFile(path)
	if err != nil {
		l.logger.Warn(fmt.Sprintf("Config file could not be read: %v. Falling back to default config.", err),
			zap.String("path", path))
		return nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		l.logger.Warn(fmt.Sprintf("Config file could not be parsed: %v. Falling back to default config.", err),
			zap.String("path", path))
		return nil
	}

	entries, ok := mappingEntries(&root)
	if !ok {
		l.logger.Warn(msgNotAssociative, zap.String("path", path))
		return nil
	}
	return entries
}

// mappingEntries unwraps the document node. Empty and comment-only documents
// are an empty mapping; any other non-mapping top level reports false.
func mappingEntries(root *yaml.Node) (map[string]*yaml.Node, bool) {
	node := root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, true
		}
		node = node.Content[0]
	}
	node = resolve(node)

	switch {
	case node.Kind == 0, isNull(node):
		return nil, true
	case node.Kind != yaml.MappingNode:
		return nil, false
	}

	entries := make(map[string]*yaml.Node, len(node.Content)/2)
	collectEntries(node, entries, 0)
	return entries, true
}

// collectEntries copies the pairs of mapping into entries with aliases
// resolved. Keys merged in through "<<" never replace explicit keys, and an
// earlier merge source wins over a later one.
func collectEntries(mapping *yaml.Node, entries map[string]*yaml.Node, depth int) {
	if depth > maxAliasDepth {
		return
	}

	var merges []*yaml.Node
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i], resolve(mapping.Content[i+1])
		if key.Kind == yaml.ScalarNode && key.ShortTag() == "!!merge" {
			merges = append(merges, value)
			continue
		}
		entries[key.Value] = value
	}

	for _, merge := range merges {
		sources := []*yaml.Node{merge}
		if merge.Kind == yaml.SequenceNode {
			sources = merge.Content
		}
		for _, src := range sources {
			src = resolve(src)
			if src.Kind != yaml.MappingNode {
				continue
			}
			merged := make(map[string]*yaml.Node, len(src.Content)/2)
			collectEntries(src, merged, depth+1)
			for k, v := range merged {
				if _, ok := entries[k]; !ok {
					entries[k] = v
				}
			}
		}
	}
}

// maxAliasDepth bounds alias chains and nested merges.
const maxAliasDepth = 32

// resolve follows alias nodes to the node they name.
func resolve(n *yaml.Node) *yaml.Node {
	for i := 0; n.Kind == yaml.AliasNode && n.Alias != nil && i < maxAliasDepth; i++ {
		n = n.Alias
	}
	return n
}

type field struct {
	key    string
	decode func(cfg *Config, node *yaml.Node) error
}

var fields = []field{
	{KeySecretKey, func(c *Config, n *yaml.Node) error { return decodeString(n, &c.SecretKey) }},
	{KeyPermanentSessionLifetime, func(c *Config, n *yaml.Node) error { return decodeSeconds(n, &c.PermanentSessionLifetime) }},
	{KeyDBURL, func(c *Config, n *yaml.Node) error { return decodeString(n, &c.DBURL) }},
	{KeyWebAdmins, func(c *Config, n *yaml.Node) error { return decodeStrings(n, &c.WebAdmins) }},
	{KeyFedoraOpenID, func(c *Config, n *yaml.Node) error { return decodeString(n, &c.FedoraOpenID) }},
	{KeyAllowFASOpenID, func(c *Config, n *yaml.Node) error { return decodeBool(n, &c.AllowFASOpenID) }},
	{KeyAllowGoogleOpenID, func(c *Config, n *yaml.Node) error { return decodeBool(n, &c.AllowGoogleOpenID) }},
	{KeyAllowYahooOpenID, func(c *Config, n *yaml.Node) error { return decodeBool(n, &c.AllowYahooOpenID) }},
	{KeyAllowGenericOpenID, func(c *Config, n *yaml.Node) error { return decodeBool(n, &c.AllowGenericOpenID) }},
	{KeyAdminEmail, func(c *Config, n *yaml.Node) error { return decodeString(n, &c.AdminEmail) }},
	{KeyLogConfig, func(c *Config, n *yaml.Node) error { return decodeMapping(n, &c.LogConfig) }},
	{KeySMTPServer, func(c *Config, n *yaml.Node) error { return decodeString(n, &c.SMTPServer) }},
	{KeyEmailErrors, func(c *Config, n *yaml.Node) error { return decodeBool(n, &c.EmailErrors) }},
	{KeyBlacklistedUsers, func(c *Config, n *yaml.Node) error { return decodeStrings(n, &c.BlacklistedUsers) }},
}

func knownKey(key string) bool {
	for _, f := range fields {
		if f.key == key {
			return true
		}
	}
	return false
}

// decodeString accepts any scalar and keeps its literal text, so a numeric
// SECRET_KEY such as 4 becomes "4".
func decodeString(n *yaml.Node, out *string) error {
	n = resolve(n)
	if isNull(n) {
		return errNullValue
	}
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected a scalar, got %s", kindName(n))
	}
	*out = n.Value
	return nil
}

func decodeBool(n *yaml.Node, out *bool) error {
	n = resolve(n)
	if isNull(n) {
		return errNullValue
	}
	var v bool
	if err := n.Decode(&v); err != nil {
		return err
	}
	*out = v
	return nil
}

// decodeSeconds accepts a positive whole number of seconds that fits in a
// time.Duration.
func decodeSeconds(n *yaml.Node, out *time.Duration) error {
	n = resolve(n)
	if isNull(n) {
		return errNullValue
	}
	var seconds int64
	if err := n.Decode(&seconds); err != nil {
		return err
	}
	if seconds <= 0 {
		return fmt.Errorf("session lifetime must be positive, got %d", seconds)
	}
	if seconds > maxLifetimeSeconds {
		return fmt.Errorf("session lifetime %d exceeds the maximum of %d seconds", seconds, maxLifetimeSeconds)
	}
	*out = time.Duration(seconds) * time.Second
	return nil
}

func decodeStrings(n *yaml.Node, out *[]string) error {
	n = resolve(n)
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("expected a sequence, got %s", kindName(n))
	}
	values := make([]string, 0, len(n.Content))
	for _, item := range n.Content {
		var s string
		if err := decodeString(item, &s); err != nil {
			return fmt.Errorf("line %d: %w", item.Line, err)
		}
		values = append(values, s)
	}
	*out = values
	return nil
}

func decodeMapping(n *yaml.Node, out *map[string]any) error {
	n = resolve(n)
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping, got %s", kindName(n))
	}
	m := make(map[string]any)
	if err := n.Decode(&m); err != nil {
		return err
	}
	*out = m
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "nothing"
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

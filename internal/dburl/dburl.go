package dburl

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/phrazzld/dbharness/internal/dberr"
)

// Credential keys produced by the built-in rules.
const (
	KeyFilePath = "file_path"
	KeyUser     = "user"
	KeyPassword = "password"
	KeyHost     = "host"
	KeyPort     = "port"
	KeyDatabase = "database"
)

// Placeholder is replaced by a unique suffix in testing mode.
// Network URLs may carry it escaped as `\{\}`.
const Placeholder = "{}"

// MemoryPath selects an in-memory database for file-based engines.
const MemoryPath = ":memory:"

const (
	escapedPlaceholder = `\{\}`
	// placeholderSentinel stands in for the placeholder while net/url parses.
	placeholderSentinel = "dbharness-placeholder-7f3a"
)

// ConnectionConfig is the resolved form of a connection URL.
type ConnectionConfig struct {
	Engine      string            `json:"engine" yaml:"engine" validate:"required"`
	Credentials map[string]string `json:"credentials" yaml:"credentials"`
}

// Clone returns a deep copy of c.
func (c ConnectionConfig) Clone() ConnectionConfig {
	return ConnectionConfig{Engine: c.Engine, Credentials: maps.Clone(c.Credentials)}
}

// Identity returns the segment that names the physical database: the file
// path for file-based engines, the database name otherwise.
func (c ConnectionConfig) Identity() string {
	if p, ok := c.Credentials[KeyFilePath]; ok {
		return p
	}
	return c.Credentials[KeyDatabase]
}

// Resolve parses rawURL into a ConnectionConfig. When testing is true the
// placeholder in the file path or database name is replaced with a fresh
// suffix so that repeated runs never share a physical database.
//
// All failures are *dberr.ConfigurationError.
func Resolve(rawURL string, testing bool) (ConnectionConfig, error) {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok || scheme == "" {
		return ConnectionConfig{}, dberr.NewConfigurationError(Mask(rawURL),
			"missing scheme, expected <scheme>://...").
			WithHint(fmt.Sprintf("known schemes: %s", strings.Join(Schemes(), ", ")))
	}

	rule, ok := Lookup(scheme)
	if !ok {
		return ConnectionConfig{}, dberr.NewConfigurationError(Mask(rawURL),
			"unknown DB scheme %q", scheme).
			WithHint(fmt.Sprintf("known schemes: %s", strings.Join(Schemes(), ", ")))
	}

	var (
		creds map[string]string
		err   error
	)
	switch rule.Kind {
	case KindFile:
		creds, err = parseFile(rawURL, rest, testing)
	case KindNetwork:
		creds, err = parseNetwork(rawURL, rule, testing)
	default:
		err = dberr.NewConfigurationError(Mask(rawURL), "scheme %q has no parsing rule", scheme)
	}
	if err != nil {
		return ConnectionConfig{}, err
	}

	return ConnectionConfig{Engine: rule.Engine, Credentials: creds}, nil
}

func parseFile(rawURL, rest string, testing bool) (map[string]string, error) {
	path, query, _ := strings.Cut(rest, "?")
	if path == "" {
		return nil, dberr.NewConfigurationError(rawURL, "no path specified for DB_URL").
			WithHint(fmt.Sprintf("use <scheme>:///abs/path, <scheme>://rel/path or <scheme>://%s", MemoryPath))
	}
	if testing && path != MemoryPath {
		path = strings.ReplaceAll(path, Placeholder, uniqueSuffix())
	}

	creds := map[string]string{KeyFilePath: path}
	if err := mergeQuery(rawURL, creds, query); err != nil {
		return nil, err
	}
	return creds, nil
}

func parseNetwork(rawURL string, rule Rule, testing bool) (map[string]string, error) {
	masked := Mask(rawURL)

	src := strings.ReplaceAll(rawURL, escapedPlaceholder, placeholderSentinel)
	src = strings.ReplaceAll(src, Placeholder, placeholderSentinel)

	u, err := url.Parse(src)
	if err != nil {
		reason := err.Error()
		var uerr *url.Error
		if errors.As(err, &uerr) {
			reason = uerr.Err.Error()
		}
		if strings.Contains(reason, "invalid port") {
			return nil, dberr.NewConfigurationError(masked, "port is not an integer")
		}
		return nil, dberr.NewConfigurationError(masked, "malformed URL: %s", reason)
	}

	host := u.Hostname()
	if host == "" {
		return nil, dberr.NewConfigurationError(masked, "no host specified")
	}

	port := u.Port()
	if port == "" {
		port = strconv.Itoa(rule.DefaultPort)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return nil, dberr.NewConfigurationError(masked, "port is not an integer")
	}
	if n <= 0 || n > 65535 {
		return nil, dberr.NewConfigurationError(masked, "port %d out of range", n)
	}

	database := strings.TrimPrefix(u.Path, "/")
	if database == "" {
		return nil, dberr.NewConfigurationError(masked, "no database specified").
			WithHint("append /<database> to the URL")
	}
	if testing {
		database = strings.ReplaceAll(database, placeholderSentinel, uniqueSuffix())
	}

	password, _ := u.User.Password()
	creds := map[string]string{
		KeyUser:     u.User.Username(),
		KeyPassword: password,
		KeyHost:     host,
		KeyPort:     strconv.Itoa(n),
		KeyDatabase: database,
	}
	for k, v := range creds {
		creds[k] = strings.ReplaceAll(v, placeholderSentinel, Placeholder)
	}

	if err := mergeQuery(masked, creds, u.RawQuery); err != nil {
		return nil, err
	}
	return creds, nil
}

// mergeQuery adds query parameters to creds. The first value of a repeated
// key wins; a key that shadows a base credential is rejected.
func mergeQuery(input string, creds map[string]string, query string) error {
	if query == "" {
		return nil
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return dberr.NewConfigurationError(input, "malformed query string: %v", err)
	}
	for k, vs := range values {
		if _, taken := creds[k]; taken {
			return dberr.NewConfigurationError(input, "query parameter %q collides with a connection field", k)
		}
		if len(vs) > 0 {
			creds[k] = strings.ReplaceAll(vs[0], placeholderSentinel, Placeholder)
		} else {
			creds[k] = ""
		}
	}
	return nil
}

// uniqueSuffix returns 8 hex characters taken from a random UUID.
func uniqueSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Mask hides the password of a URL for safe logging. Values that do not look
// like URLs are returned unchanged.
func Mask(rawURL string) string {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return rawURL
	}
	end := strings.IndexAny(rest, "/?")
	if end < 0 {
		end = len(rest)
	}
	authority := rest[:end]
	at := strings.LastIndex(authority, "@")
	if at < 0 {
		return rawURL
	}
	user, _, hasPassword := strings.Cut(authority[:at], ":")
	if !hasPassword {
		return rawURL
	}
	return scheme + "://" + user + ":****" + authority[at:] + rest[end:]
}

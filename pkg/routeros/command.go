package routeros

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

var ErrEmptyCommand = errors.New("routeros: empty command")

// Command is a single API call. Path is the menu path including the verb,
// e.g. "/ppp/active/print".
type Command struct {
	Path     string
	Args     map[string]string
	Query    []string
	Proplist []string
}

// NewCommand returns a Command for path with no arguments.
func NewCommand(path string) Command {
	return Command{Path: path}
}

// With returns a copy of c with an extra =key=value attribute.
func (c Command) With(key, value string) Command {
	args := make(map[string]string, len(c.Args)+1)
	for k, v := range c.Args {
		args[k] = v
	}
	args[key] = value
	c.Args = args
	return c
}

// Where returns a copy of c with an extra ?key=value query word.
func (c Command) Where(key, value string) Command {
	c.Query = append(append([]string(nil), c.Query...), key+"="+value)
	return c
}

// Props returns a copy of c limited to the given properties.
func (c Command) Props(props ...string) Command {
	c.Proplist = append(append([]string(nil), c.Proplist...), props...)
	return c
}

// Words renders the API sentence. Attributes are sorted so identical commands
// produce identical sentences.
func (c Command) Words() []string {
	words := make([]string, 0, 1+len(c.Args)+len(c.Query)+1)
	words = append(words, c.Path)

	keys := make([]string, 0, len(c.Args))
	for k := range c.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		words = append(words, "="+k+"="+c.Args[k])
	}
	if len(c.Proplist) > 0 {
		words = append(words, "=.proplist="+strings.Join(c.Proplist, ","))
	}
	for _, q := range c.Query {
		if strings.HasPrefix(q, "?") {
			words = append(words, q)
			continue
		}
		words = append(words, "?"+q)
	}
	return words
}

// String is the path only; attribute values may hold secrets.
func (c Command) String() string {
	return c.Path
}

// ParseCommand turns a console line into a Command. Both API style
// ("/ip/address/print ?interface=ether1") and CLI style ("/ip address print")
// paths are accepted. Bare words after the first attribute become empty
// attributes, e.g. "once" -> "=once=".
func ParseCommand(line string) (Command, error) {
	tokens, err := tokenize(line)
	if err != nil {
		return Command{}, err
	}
	if len(tokens) == 0 {
		return Command{}, ErrEmptyCommand
	}
	path := tokens[0]
	if !strings.HasPrefix(path, "/") {
		return Command{}, errors.Newf("routeros: command must start with '/': %q", path)
	}
	cliStyle := !strings.Contains(strings.TrimPrefix(path, "/"), "/")

	cmd := Command{Path: path}
	joining := cliStyle
	for _, tok := range tokens[1:] {
		switch {
		case strings.HasPrefix(tok, "?"):
			joining = false
			cmd.Query = append(cmd.Query, tok)
		case strings.HasPrefix(tok, "=.proplist="), strings.HasPrefix(tok, ".proplist="):
			joining = false
			list := tok[strings.Index(tok, "proplist=")+len("proplist="):]
			for _, p := range strings.Split(list, ",") {
				if p = strings.TrimSpace(p); p != "" {
					cmd.Proplist = append(cmd.Proplist, p)
				}
			}
		case strings.Contains(tok, "="):
			joining = false
			kv := strings.TrimPrefix(tok, "=")
			k, v, _ := strings.Cut(kv, "=")
			if k == "" {
				return Command{}, errors.Newf("routeros: malformed attribute %q", tok)
			}
			cmd = cmd.With(k, v)
		case joining:
			cmd.Path = strings.TrimSuffix(cmd.Path, "/") + "/" + tok
		default:
			cmd = cmd.With(tok, "")
		}
	}
	return cmd, nil
}

// tokenize splits on whitespace, keeping double-quoted runs together.
func tokenize(line string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		escaped bool
		hasTok  bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && inQuote:
			escaped = true
		case r == '"':
			inQuote = !inQuote
			hasTok = true
		case (r == ' ' || r == '\t') && !inQuote:
			if hasTok {
				tokens = append(tokens, cur.String())
				cur.Reset()
				hasTok = false
			}
		default:
			cur.WriteRune(r)
			hasTok = true
		}
	}
	if inQuote {
		return nil, errors.New("routeros: unterminated quote")
	}
	if hasTok {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
